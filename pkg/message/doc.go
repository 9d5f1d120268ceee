/*
Package message defines the kbus message model: message and endpoint
identifiers, provenance tuples, flags, and the Message type with its four
behavioural subtypes.

# Subtypes

A Message is one struct; its subtype is derived by Kind():

	Status        SYNTHETIC set (broker-generated, name under $.KBUS.)
	Reply         InReplyTo set
	Request       WANT_A_REPLY set
	Announcement  everything else

Each subtype has a constructor that forces the fields defining it:

	ann := message.NewAnnouncement("$.Sensors.Temp", []byte("21.5"))
	req := message.NewRequest("$.Sensors.Calibrate", nil, message.WithFlags(message.FlagUrgent))
	rep, err := message.ReplyTo(received, []byte("ok"))

# Names

Names are hierarchical, dot separated and always start with "$.". Each
component is ASCII alphanumeric. Binding patterns may end with a wildcard
component: "*" matches zero or more further components, "%" exactly one.
Messages can never be sent to a wildcard name.

# Identity

An ID is (network id, serial number), totally ordered. Brokers assign
network id 0 and a per-broker increasing serial; bridges stamp their own
network id on traffic they forward. OrigFrom/FinalTo record the true
originator and ultimate replier of bridged requests.

Equivalent compares two messages by content (to, name, data) and is what
tests and the bridge use to check lossless delivery.
*/
package message
