package node

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/repeerv3/trust-node/internal/trust"
)

// TrustProtocolMainnet and TrustProtocolTestnet are the protocol IDs the
// Network Actor registers its stream handler under. Which one is active
// depends on the node's configured network type (§4.5).
const (
	TrustProtocolMainnet protocol.ID = "/repeer/trust/1.0.0"
	TrustProtocolTestnet protocol.ID = "/repeer-testnet/trust/1.0.0"
)

// Request and response frames are capped independently (§4.5): a query
// carries little more than the agent identifiers asked about, while a response carries
// every peer's local score plus whatever it in turn fused from its own
// peers, so it is given ten times the headroom.
const (
	maxRequestSize  = 1 << 20      // 1 MiB
	maxResponseSize = 10 * 1 << 20 // 10 MiB
)

// TrustQuery is the wire request for a trust query (§6 wire format). Agents
// is a batch: §4.7 Phases 1/2/4 all loop "for each agent in Q.agents" rather
// than handling one agent per round trip. MaxDepth is the fan-out budget
// already decremented by the sender (§4.7 Phase 2); the receiver honors it
// as its own budget rather than decrementing again.
type TrustQuery struct {
	QueryID     string                  `json:"query_id"`
	Agents      []trust.AgentIdentifier `json:"agents"`
	PointInTime int64                   `json:"point_in_time"`
	ForgetRate  float64                 `json:"forget_rate"`
	MaxDepth    int                     `json:"max_depth"`
}

// TrustResponse is the wire reply to a TrustQuery (§6 wire format).
type TrustResponse struct {
	QueryID string            `json:"query_id"`
	Scores  []trust.AgentScore `json:"scores"`
	Error   string            `json:"error,omitempty"`
}

// readLengthPrefixed reads a 4-byte big-endian length prefix followed by
// that many bytes. A length exceeding maxSize fails the stream outright
// rather than attempting a partial read.
func readLengthPrefixed(r io.Reader, maxSize uint32) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read length: %w", err)
	}

	if length > maxSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	return data, nil
}

// writeLengthPrefixed writes data prefixed with its 4-byte big-endian
// length. Oversize frames are rejected before anything is written.
func writeLengthPrefixed(w io.Writer, data []byte, maxSize uint32) error {
	if uint32(len(data)) > maxSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxSize)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// readRequest reads a TrustQuery frame, enforcing the request size limit.
func readRequest(r io.Reader) (TrustQuery, error) {
	body, err := readLengthPrefixed(r, maxRequestSize)
	if err != nil {
		return TrustQuery{}, err
	}
	var q TrustQuery
	if err := json.Unmarshal(body, &q); err != nil {
		return TrustQuery{}, fmt.Errorf("failed to parse query: %w", err)
	}
	return q, nil
}

// writeRequest writes a TrustQuery frame, enforcing the request size limit.
func writeRequest(w io.Writer, q TrustQuery) error {
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}
	return writeLengthPrefixed(w, body, maxRequestSize)
}

// readResponse reads a TrustResponse frame, enforcing the response size limit.
func readResponse(r io.Reader) (TrustResponse, error) {
	body, err := readLengthPrefixed(r, maxResponseSize)
	if err != nil {
		return TrustResponse{}, err
	}
	var resp TrustResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TrustResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

// writeResponse writes a TrustResponse frame, enforcing the response size limit.
func writeResponse(w io.Writer, resp TrustResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return writeLengthPrefixed(w, body, maxResponseSize)
}
