/*
Package wire encodes kbus messages to and from self-delimiting byte frames.

# Frame Layout

All integers are little-endian u32s:

	┌──────────────────────── FRAME ────────────────────────┐
	│ start_guard              0x7375624B                    │
	│ id                       network_id, serial_num        │
	│ in_reply_to              network_id, serial_num        │
	│ to                                                      │
	│ from                                                    │
	│ orig_from                network_id, local_id          │
	│ final_to                 network_id, local_id          │
	│ flags                                                   │
	│ name_len                                                │
	│ data_len                 (header ends: 56 bytes)       │
	├────────────────────────────────────────────────────────┤
	│ name, NUL, zero padding to a 4-byte boundary           │
	│ data, zero padding to a 4-byte boundary (no NUL)       │
	│ end_guard                0x4B627573                    │
	└────────────────────────────────────────────────────────┘

TotalLength(name_len, data_len) gives the exact frame size; Encode never
returns more bytes than that.

# Streams

On a byte stream (see pkg/transport) each frame is preceded by its total
length as a u32:

	if err := wire.WriteMessage(conn, msg); err != nil { ... }
	msg, err := wire.ReadMessage(conn, 0)

Decode failures are *FramingError values, which match errdefs.ErrFraming
under errors.Is.
*/
package wire
