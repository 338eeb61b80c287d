package data

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so identical records always
// serialize to identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("data: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("data: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes a metadata record for storage.
func (m *Metadata) Marshal() ([]byte, error) {
	return encMode.Marshal(m)
}

// UnmarshalMetadata decodes a record previously produced by Metadata.Marshal.
func UnmarshalMetadata(raw []byte) (*Metadata, error) {
	var meta Metadata
	if err := decMode.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return &meta, nil
}
