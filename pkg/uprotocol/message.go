// pkg/uprotocol/message.go
package uprotocol

// UMessage is the unit delivered to listeners: the topic it arrived on, the
// decoded attributes, and the payload.
type UMessage struct {
	Source     *UUri
	Attributes *UAttributes
	Payload    *UPayload
}
