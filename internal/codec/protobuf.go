package codec

import (
	"bufio"
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() { register(protoCodec{}, "pb", "proto") }

// protoCodec stores records as google.protobuf.Struct messages; files are
// streams of varint length-delimited messages.
type protoCodec struct{}

func (protoCodec) Name() string    { return "protobuf" }
func (protoCodec) Streaming() bool { return true }

func (protoCodec) NewDecoder(r io.Reader) Decoder {
	return &protoDecoder{r: bufio.NewReader(r)}
}

func (protoCodec) NewEncoder(w io.Writer) Encoder {
	return &protoEncoder{w: bufio.NewWriter(w)}
}

func (protoCodec) Marshal(rec core.Record) ([]byte, error) {
	s, err := toStruct(rec)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (protoCodec) Unmarshal(b []byte) (core.Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return core.Record{}, err
	}
	return fromStruct(&s)
}

type protoDecoder struct {
	r *bufio.Reader
}

func (d *protoDecoder) Decode() (core.Record, error) {
	var s structpb.Struct
	if err := protodelim.UnmarshalFrom(d.r, &s); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Record{}, io.EOF
		}
		return core.Record{}, err
	}
	return fromStruct(&s)
}

type protoEncoder struct {
	w *bufio.Writer
}

func (e *protoEncoder) Encode(rec core.Record) error {
	s, err := toStruct(rec)
	if err != nil {
		return err
	}
	if _, err := protodelim.MarshalTo(e.w, s); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *protoEncoder) Close() error { return e.w.Flush() }

func toStruct(rec core.Record) (*structpb.Struct, error) {
	m, _ := rec.Value().Interface().(map[string]any)
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct) (core.Record, error) {
	v, err := core.FromInterface(s.AsMap())
	if err != nil {
		return core.Record{}, err
	}
	m, _ := v.AsMap()
	return core.NewRecord(m), nil
}
