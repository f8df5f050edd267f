// pkg/ulink/keymap.go
// URI → substrate key mapping.  The long textual form of a uProtocol URI may
// contain characters the substrate reserves for key-expression syntax
// (wildcards, selectors, anchors); the mapper escapes them with fixed
// substitutions so that any validly-serialized URI yields a legal key.  The
// mapping is deterministic and only defined in the URI→key direction.
package ulink

import (
	"strings"

	"github.com/Voskan/uplink/pkg/uprotocol"
)

// keySubstitutions apply in order; each replaces every occurrence.
var keySubstitutions = [...][2]string{
	{"*", `\8`},
	{"$", `\4`},
	{"?", `\0`},
	{"#", `\3`},
	{"//", `\/`},
}

// uriToKey serializes uri in long form, strips the single leading slash, and
// escapes reserved characters.
func uriToKey(uri uprotocol.UUri) (string, error) {
	long := uprotocol.LongForm(uri)
	if long == "" {
		return "", uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to transform to Zenoh key")
	}
	long = strings.TrimPrefix(long, "/")
	for _, sub := range keySubstitutions {
		long = strings.ReplaceAll(long, sub[0], sub[1])
	}
	return long, nil
}
