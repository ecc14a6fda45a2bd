/*
Package wire defines the newline-delimited JSON framing of Quarry's data
plane.

SDC executors talk to SDS data listeners over plain TCP. Each frame is
one JSON object terminated by a newline; a connection carries any number
of request/response pairs in order.

# Frame Schema

Request:

	{
	  "action": "read|write|init_volume",
	  "token": { ...signed token grant... },
	  "volume_id": 1, "chunk_id": 9, "chunk_index": 0,
	  "offset_bytes": 4096, "length_bytes": 512,
	  "data_b64": "..."        // writes only
	}

Response:

	{
	  "ok": true,
	  "bytes_read": 512, "data_b64": "...",      // reads
	  "bytes_written": 512, "generation": 3,      // writes
	  "checksum": "...",
	  "error": "..."                              // ok=false only
	}

# Usage

One-shot exchange (the SDC executor's default):

	resp, err := wire.Do(addr, &wire.Request{
		Action:      wire.ActionRead,
		VolumeID:    volID,
		ChunkIndex:  seg.ChunkIndex,
		OffsetBytes: seg.SegmentOffset,
		LengthBytes: seg.SegmentLength,
		Token:       grant,
	}, time.Second)

Persistent connection (multiple frames):

	conn, err := wire.Dial(addr, timeout)
	defer conn.Close()
	err = conn.Send(req)
	err = conn.Receive(&resp)

# Design Notes

json.Encoder appends the terminating newline natively, so framing and
encoding are one step. Transport-level failures wrap
types.ErrTargetIO so the executor's retry logic can classify them;
application-level failures arrive as ok=false responses with the error
string and are never transport errors.

All binary payloads cross the wire base64-encoded. The 1s default
deadline for SDC↔SDS exchanges is set by the caller via Do's timeout.

# See Also

  - pkg/sds for the listener that serves these frames
  - pkg/sdc for the executor that issues them
*/
package wire
