package crdt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
)

// Update wire format: magic | blake3-256(payload) | zstd(payload JSON)
const (
	updateMagic   = "LYU1"
	updateVersion = 1
	digestSize    = 32

	maxDecodedSize = 64 << 20
)

var (
	// ErrFormat is returned for payloads that are not layout updates
	ErrFormat = errors.New("not a layout update")

	// ErrChecksum is returned when the payload digest does not match
	ErrChecksum = errors.New("update checksum mismatch")

	// ErrVersion is returned for updates written by an unknown format version
	ErrVersion = errors.New("unsupported update version")
)

type mapEntry struct {
	Map      string   `json:"m"`
	Key      string   `json:"k"`
	Field    string   `json:"f,omitempty"`
	Presence bool     `json:"p,omitempty"`
	Reg      Register `json:"r"`
}

type listEntry struct {
	List string `json:"l"`
	Item Item   `json:"i"`
}

type deleteEntry struct {
	List string  `json:"l"`
	Key  itemKey `json:"i"`
}

type update struct {
	Version int           `json:"v"`
	Maps    []mapEntry    `json:"maps,omitempty"`
	Lists   []listEntry   `json:"lists,omitempty"`
	Deleted []deleteEntry `json:"deleted,omitempty"`
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil)
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return encoder, decoder, codecErr
}

func encodeUpdate(u update) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd: %w", err)
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update: %w", err)
	}

	sum := blake3.Sum256(payload)
	out := make([]byte, 0, len(updateMagic)+digestSize+len(payload)/2)
	out = append(out, updateMagic...)
	out = append(out, sum[:]...)
	return enc.EncodeAll(payload, out), nil
}

func decodeUpdate(data []byte) (update, error) {
	var u update
	if len(data) < len(updateMagic)+digestSize || !bytes.HasPrefix(data, []byte(updateMagic)) {
		return u, ErrFormat
	}

	_, dec, err := codec()
	if err != nil {
		return u, fmt.Errorf("failed to init zstd: %w", err)
	}

	digest := data[len(updateMagic) : len(updateMagic)+digestSize]
	payload, err := dec.DecodeAll(data[len(updateMagic)+digestSize:], nil)
	if err != nil {
		return u, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], digest) {
		return u, ErrChecksum
	}

	if err := json.Unmarshal(payload, &u); err != nil {
		return u, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if u.Version != updateVersion {
		return u, fmt.Errorf("%w: %d", ErrVersion, u.Version)
	}
	return u, nil
}

// StateVector maps each client to the highest clock integrated from it
type StateVector map[string]uint64

func (sv StateVector) observe(id ID) {
	if id.Clock > sv[id.Client] {
		sv[id.Client] = id.Clock
	}
}

// Encode returns a compact binary form: count, then (len, client, clock) per
// client in client order, all as uvarints
func (sv StateVector) Encode() []byte {
	buf := binary.AppendUvarint(nil, uint64(len(sv)))
	for _, client := range slices.Sorted(maps.Keys(sv)) {
		buf = binary.AppendUvarint(buf, uint64(len(client)))
		buf = append(buf, client...)
		buf = binary.AppendUvarint(buf, sv[client])
	}
	return buf
}

// DecodeStateVector parses the output of StateVector.Encode
func DecodeStateVector(data []byte) (StateVector, error) {
	sv := make(StateVector)
	if len(data) == 0 {
		return sv, nil
	}

	r := bytes.NewReader(data)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: state vector length: %v", ErrFormat, err)
	}
	for i := uint64(0); i < n; i++ {
		size, err := binary.ReadUvarint(r)
		if err != nil || size > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: state vector client %d", ErrFormat, i)
		}
		client := make([]byte, size)
		if _, err := r.Read(client); err != nil && size > 0 {
			return nil, fmt.Errorf("%w: state vector client %d: %v", ErrFormat, i, err)
		}
		clock, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: state vector clock %d: %v", ErrFormat, i, err)
		}
		sv[string(client)] = clock
	}
	return sv, nil
}
