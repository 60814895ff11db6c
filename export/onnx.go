package export

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// Field numbers from onnx.proto.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8
	modelMetadataProps   protowire.Number = 14

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	nodeInput     protowire.Number = 1
	nodeOutput    protowire.Number = 2
	nodeName      protowire.Number = 3
	nodeOpType    protowire.Number = 4
	nodeAttribute protowire.Number = 5

	attributeName protowire.Number = 1
	attributeF    protowire.Number = 2
	attributeI    protowire.Number = 3
	attributeInts protowire.Number = 8
	attributeType protowire.Number = 20

	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorInt64Data protowire.Number = 7
	tensorName      protowire.Number = 8
	tensorRawData   protowire.Number = 9

	valueName protowire.Number = 1
	valueType protowire.Number = 2

	typeTensor     protowire.Number = 1
	tensorElemType protowire.Number = 1
	tensorShape    protowire.Number = 2
	shapeDim       protowire.Number = 1
	dimValue       protowire.Number = 1
	dimParam       protowire.Number = 2

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2
)

// Marshal encodes the graph as an ONNX ModelProto.
func (g *Graph) Marshal() []byte {
	var b []byte
	b = appendVarint(b, modelIRVersion, uint64(g.IRVersion))
	b = appendString(b, modelProducerName, g.ProducerName)
	if g.ProducerVersion != "" {
		b = appendString(b, modelProducerVersion, g.ProducerVersion)
	}
	b = appendMessage(b, modelGraph, g.marshalGraph())

	var opset []byte
	opset = appendString(opset, opsetDomain, "")
	opset = appendVarint(opset, opsetVersion, uint64(g.Opset))
	b = appendMessage(b, modelOpsetImport, opset)

	for _, p := range g.Metadata {
		var e []byte
		e = appendString(e, entryKey, p.Key)
		e = appendString(e, entryValue, p.Value)
		b = appendMessage(b, modelMetadataProps, e)
	}
	return b
}

func (g *Graph) marshalGraph() []byte {
	var b []byte
	for _, n := range g.Nodes {
		b = appendMessage(b, graphNode, marshalNode(n))
	}
	b = appendString(b, graphName, g.Name)
	for _, t := range g.Initializers {
		b = appendMessage(b, graphInitializer, marshalTensor(t))
	}
	b = appendMessage(b, graphInput, marshalValueInfo(g.Input))
	b = appendMessage(b, graphOutput, marshalValueInfo(g.Output))
	return b
}

func marshalNode(n Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendString(b, nodeInput, in)
	}
	for _, out := range n.Outputs {
		b = appendString(b, nodeOutput, out)
	}
	b = appendString(b, nodeName, n.Name)
	b = appendString(b, nodeOpType, n.OpType)
	for _, a := range n.Attributes {
		b = appendMessage(b, nodeAttribute, marshalAttribute(a))
	}
	return b
}

func marshalAttribute(a Attribute) []byte {
	var b []byte
	b = appendString(b, attributeName, a.Name)
	switch a.Type {
	case attrFloat:
		b = protowire.AppendTag(b, attributeF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case attrInt:
		b = appendVarint(b, attributeI, uint64(a.I))
	case attrInts:
		for _, v := range a.Ints {
			b = appendVarint(b, attributeInts, uint64(v))
		}
	}
	return appendVarint(b, attributeType, uint64(a.Type))
}

func marshalTensor(t Tensor) []byte {
	var b []byte
	for _, d := range t.Dims {
		b = appendVarint(b, tensorDims, uint64(d))
	}
	b = appendVarint(b, tensorDataType, uint64(t.DataType))
	if t.DataType == elemInt64 {
		var packed []byte
		for _, v := range t.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, tensorInt64Data, packed)
	}
	b = appendString(b, tensorName, t.Name)
	if t.DataType == elemFloat {
		raw := make([]byte, 4*len(t.Floats))
		for i, v := range t.Floats {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}
		b = appendMessage(b, tensorRawData, raw)
	}
	return b
}

func marshalValueInfo(v ValueInfo) []byte {
	var shape []byte
	for _, d := range v.Dims {
		var dim []byte
		if d.Param != "" {
			dim = appendString(dim, dimParam, d.Param)
		} else {
			dim = appendVarint(dim, dimValue, uint64(d.Value))
		}
		shape = appendMessage(shape, shapeDim, dim)
	}
	var tt []byte
	tt = appendVarint(tt, tensorElemType, uint64(v.ElemType))
	tt = appendMessage(tt, tensorShape, shape)

	var typ []byte
	typ = appendMessage(typ, typeTensor, tt)

	var b []byte
	b = appendString(b, valueName, v.Name)
	return appendMessage(b, valueType, typ)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// field is one decoded protobuf field. Varint and fixed32 payloads land in
// u, length-delimited payloads in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// int64s reads a repeated int64 field in either packed or unpacked form.
func (f field) int64s() ([]int64, error) {
	if f.typ == protowire.VarintType {
		return []int64{int64(f.u)}, nil
	}
	var out []int64
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int64(v))
		b = b[n:]
	}
	return out, nil
}

// floats reads a repeated float field in either packed or unpacked form.
func (f field) floats() ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return []float32{math.Float32frombits(uint32(f.u))}, nil
	}
	if len(f.b)%4 != 0 {
		return nil, fmt.Errorf("packed float field has %d bytes", len(f.b))
	}
	return littleEndianFloats(f.b), nil
}

func littleEndianFloats(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

// ParseModel decodes an ONNX ModelProto produced by Marshal. Fields the
// scorer never writes are skipped.
func ParseModel(data []byte) (*Graph, error) {
	g := &Graph{}
	var graphBytes []byte
	err := walk(data, func(f field) error {
		switch f.num {
		case modelIRVersion:
			g.IRVersion = int64(f.u)
		case modelProducerName:
			g.ProducerName = string(f.b)
		case modelProducerVersion:
			g.ProducerVersion = string(f.b)
		case modelGraph:
			graphBytes = f.b
		case modelOpsetImport:
			var domain string
			var version int64
			if err := walk(f.b, func(o field) error {
				switch o.num {
				case opsetDomain:
					domain = string(o.b)
				case opsetVersion:
					version = int64(o.u)
				}
				return nil
			}); err != nil {
				return err
			}
			if domain == "" || domain == "ai.onnx" {
				g.Opset = version
			}
		case modelMetadataProps:
			var p Property
			if err := walk(f.b, func(e field) error {
				switch e.num {
				case entryKey:
					p.Key = string(e.b)
				case entryValue:
					p.Value = string(e.b)
				}
				return nil
			}); err != nil {
				return err
			}
			g.Metadata = append(g.Metadata, p)
		}
		return nil
	})
	if err != nil {
		return nil, failure.Integrityf("malformed model: %v", err)
	}
	if graphBytes == nil {
		return nil, failure.Integrityf("model has no graph")
	}
	if err := g.parseGraph(graphBytes); err != nil {
		return nil, failure.Integrityf("malformed graph: %v", err)
	}
	return g, nil
}

func (g *Graph) parseGraph(data []byte) error {
	var inputs, outputs []ValueInfo
	err := walk(data, func(f field) error {
		switch f.num {
		case graphNode:
			n, err := parseNode(f.b)
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case graphName:
			g.Name = string(f.b)
		case graphInitializer:
			t, err := parseTensor(f.b)
			if err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case graphInput:
			v, err := parseValueInfo(f.b)
			if err != nil {
				return err
			}
			inputs = append(inputs, v)
		case graphOutput:
			v, err := parseValueInfo(f.b)
			if err != nil {
				return err
			}
			outputs = append(outputs, v)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Some exporters also list initializers as graph inputs.
	consts := make(map[string]bool, len(g.Initializers))
	for _, t := range g.Initializers {
		consts[t.Name] = true
	}
	var feeds []ValueInfo
	for _, in := range inputs {
		if !consts[in.Name] {
			feeds = append(feeds, in)
		}
	}
	if len(feeds) != 1 || len(outputs) != 1 {
		return fmt.Errorf("want one input and one output, got %d and %d", len(feeds), len(outputs))
	}
	g.Input, g.Output = feeds[0], outputs[0]
	return nil
}

func parseNode(data []byte) (Node, error) {
	var n Node
	err := walk(data, func(f field) error {
		switch f.num {
		case nodeInput:
			n.Inputs = append(n.Inputs, string(f.b))
		case nodeOutput:
			n.Outputs = append(n.Outputs, string(f.b))
		case nodeName:
			n.Name = string(f.b)
		case nodeOpType:
			n.OpType = string(f.b)
		case nodeAttribute:
			a, err := parseAttribute(f.b)
			if err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, a)
		}
		return nil
	})
	return n, err
}

func parseAttribute(data []byte) (Attribute, error) {
	var a Attribute
	err := walk(data, func(f field) error {
		switch f.num {
		case attributeName:
			a.Name = string(f.b)
		case attributeF:
			a.F = math.Float32frombits(uint32(f.u))
		case attributeI:
			a.I = int64(f.u)
		case attributeInts:
			vs, err := f.int64s()
			if err != nil {
				return err
			}
			a.Ints = append(a.Ints, vs...)
		case attributeType:
			a.Type = int32(f.u)
		}
		return nil
	})
	return a, err
}

func parseTensor(data []byte) (Tensor, error) {
	var t Tensor
	var raw []byte
	err := walk(data, func(f field) error {
		switch f.num {
		case tensorDims:
			vs, err := f.int64s()
			if err != nil {
				return err
			}
			t.Dims = append(t.Dims, vs...)
		case tensorDataType:
			t.DataType = int32(f.u)
		case tensorFloatData:
			vs, err := f.floats()
			if err != nil {
				return err
			}
			t.Floats = append(t.Floats, vs...)
		case tensorInt64Data:
			vs, err := f.int64s()
			if err != nil {
				return err
			}
			t.Int64s = append(t.Int64s, vs...)
		case tensorName:
			t.Name = string(f.b)
		case tensorRawData:
			raw = f.b
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	if raw != nil {
		switch t.DataType {
		case elemFloat:
			if len(raw)%4 != 0 {
				return t, fmt.Errorf("tensor %s: raw data has %d bytes", t.Name, len(raw))
			}
			t.Floats = littleEndianFloats(raw)
		case elemInt64:
			if len(raw)%8 != 0 {
				return t, fmt.Errorf("tensor %s: raw data has %d bytes", t.Name, len(raw))
			}
			t.Int64s = make([]int64, len(raw)/8)
			for i := range t.Int64s {
				t.Int64s[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		default:
			return t, fmt.Errorf("tensor %s: unsupported data type %d", t.Name, t.DataType)
		}
	}
	return t, nil
}

func parseValueInfo(data []byte) (ValueInfo, error) {
	var v ValueInfo
	err := walk(data, func(f field) error {
		switch f.num {
		case valueName:
			v.Name = string(f.b)
		case valueType:
			return walk(f.b, func(tf field) error {
				if tf.num != typeTensor {
					return nil
				}
				return walk(tf.b, func(tt field) error {
					switch tt.num {
					case tensorElemType:
						v.ElemType = int32(tt.u)
					case tensorShape:
						return walk(tt.b, func(sd field) error {
							if sd.num != shapeDim {
								return nil
							}
							var d Dim
							err := walk(sd.b, func(df field) error {
								switch df.num {
								case dimValue:
									d.Value = int64(df.u)
								case dimParam:
									d.Param = string(df.b)
								}
								return nil
							})
							v.Dims = append(v.Dims, d)
							return err
						})
					}
					return nil
				})
			})
		}
		return nil
	})
	return v, err
}

// GraphInfo is the part of an exported model that callers check against
// the encoder document.
type GraphInfo struct {
	IRVersion  int64
	Opset      int64
	Producer   string
	InputName  string
	InputDims  []Dim
	OutputName string
	OutputDims []Dim
	Ops        []string
	Metadata   map[string]string
}

// ReadGraphInfo decodes an exported model and summarizes its interface.
func ReadGraphInfo(data []byte) (*GraphInfo, error) {
	g, err := ParseModel(data)
	if err != nil {
		return nil, err
	}
	info := &GraphInfo{
		IRVersion:  g.IRVersion,
		Opset:      g.Opset,
		Producer:   g.ProducerName,
		InputName:  g.Input.Name,
		InputDims:  g.Input.Dims,
		OutputName: g.Output.Name,
		OutputDims: g.Output.Dims,
		Metadata:   make(map[string]string, len(g.Metadata)),
	}
	for _, n := range g.Nodes {
		info.Ops = append(info.Ops, n.OpType)
	}
	for _, p := range g.Metadata {
		info.Metadata[p.Key] = p.Value
	}
	return info, nil
}
