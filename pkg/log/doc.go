/*
Package log provides structured logging for kbus using zerolog.

A single package-level Logger is configured once by Init, normally from
kbusd's log section. Packages derive child loggers that carry the field
they are about:

	logger := log.WithComponent("broker")
	logger.Debug().Uint32("endpoint_id", uint32(id)).Msg("Endpoint opened")

	bl := log.WithBridgeID(id)            // one bridge instance
	nl := log.WithNetworkID(networkID)    // the local network in a bridge
	el := log.WithEndpointID(uint32(id))  // one Ksock

Output is either JSON, for log shippers, or the zerolog console writer with
RFC 3339 timestamps. Levels are debug, info, warn and error; unknown levels
fall back to info.

The broker logs endpoint and binding changes at debug, dropped copies and
orphaned requests at info, and nothing on the per-message fast path.
*/
package log
