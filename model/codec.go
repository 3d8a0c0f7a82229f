package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// FormatVersion is bumped whenever the wire layout changes incompatibly.
const FormatVersion = 1

// Field numbers of the serialized model. The layout is protobuf wire format
// so the artifact can be inspected with standard tooling (protoc --decode_raw).
const (
	fieldFeatureNames  protowire.Number = 1
	fieldRegions       protowire.Number = 2
	fieldBaseScore     protowire.Number = 3
	fieldLearningRate  protowire.Number = 4
	fieldParams        protowire.Number = 5
	fieldStats         protowire.Number = 6
	fieldTrainedAt     protowire.Number = 7
	fieldTree          protowire.Number = 8
	fieldFormatVersion protowire.Number = 15

	paramTrees          protowire.Number = 1
	paramLearningRate   protowire.Number = 2
	paramMaxDepth       protowire.Number = 3
	paramMinSamplesLeaf protowire.Number = 4
	paramSubsample      protowire.Number = 5
	paramSeed           protowire.Number = 6

	statRows protowire.Number = 1
	statRMSE protowire.Number = 2
	statMAE  protowire.Number = 3
	statR2   protowire.Number = 4

	treeNode protowire.Number = 1

	nodeFeature   protowire.Number = 1
	nodeThreshold protowire.Number = 2
	nodeLeft      protowire.Number = 3
	nodeRight     protowire.Number = 4
	nodeValue     protowire.Number = 5
)

// ErrCorruptModel is returned when serialized bytes cannot be decoded.
var ErrCorruptModel = errors.New("corrupt model encoding")

// Marshal serializes m. The output is deterministic for a given model.
func Marshal(m *Model) []byte {
	var b []byte
	b = appendVarint(b, fieldFormatVersion, FormatVersion)
	for _, name := range m.FeatureNames {
		b = protowire.AppendTag(b, fieldFeatureNames, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	for _, r := range m.Regions {
		b = protowire.AppendTag(b, fieldRegions, protowire.BytesType)
		b = protowire.AppendString(b, r)
	}
	b = appendDouble(b, fieldBaseScore, m.BaseScore)
	b = appendDouble(b, fieldLearningRate, m.LearningRate)

	var p []byte
	p = appendVarint(p, paramTrees, uint64(m.Params.Trees))
	p = appendDouble(p, paramLearningRate, m.Params.LearningRate)
	p = appendVarint(p, paramMaxDepth, uint64(m.Params.MaxDepth))
	p = appendVarint(p, paramMinSamplesLeaf, uint64(m.Params.MinSamplesLeaf))
	p = appendDouble(p, paramSubsample, m.Params.Subsample)
	p = appendVarint(p, paramSeed, protowire.EncodeZigZag(m.Params.Seed))
	b = appendMessage(b, fieldParams, p)

	var s []byte
	s = appendVarint(s, statRows, uint64(m.Stats.Rows))
	s = appendDouble(s, statRMSE, m.Stats.RMSE)
	s = appendDouble(s, statMAE, m.Stats.MAE)
	s = appendDouble(s, statR2, m.Stats.R2)
	b = appendMessage(b, fieldStats, s)

	b = appendVarint(b, fieldTrainedAt, protowire.EncodeZigZag(m.TrainedAt.UnixNano()))

	for _, t := range m.trees {
		var tb []byte
		for _, n := range t.nodes {
			var nb []byte
			nb = appendVarint(nb, nodeFeature, protowire.EncodeZigZag(int64(n.Feature)))
			nb = appendDouble(nb, nodeThreshold, n.Threshold)
			nb = appendVarint(nb, nodeLeft, uint64(n.Left))
			nb = appendVarint(nb, nodeRight, uint64(n.Right))
			nb = appendDouble(nb, nodeValue, n.Value)
			tb = appendMessage(tb, treeNode, nb)
		}
		b = appendMessage(b, fieldTree, tb)
	}
	return b
}

// Unmarshal decodes a model written by Marshal and validates it.
func Unmarshal(data []byte) (*Model, error) {
	m := &Model{}
	version := uint64(0)

	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldFormatVersion:
			val, n := protowire.ConsumeVarint(v)
			version = val
			return n, nil
		case fieldFeatureNames:
			val, n := protowire.ConsumeString(v)
			m.FeatureNames = append(m.FeatureNames, val)
			return n, nil
		case fieldRegions:
			val, n := protowire.ConsumeString(v)
			m.Regions = append(m.Regions, val)
			return n, nil
		case fieldBaseScore:
			return consumeDouble(v, &m.BaseScore)
		case fieldLearningRate:
			return consumeDouble(v, &m.LearningRate)
		case fieldParams:
			return consumeMessage(v, func(msg []byte) error { return decodeParams(msg, &m.Params) })
		case fieldStats:
			return consumeMessage(v, func(msg []byte) error { return decodeStats(msg, &m.Stats) })
		case fieldTrainedAt:
			val, n := protowire.ConsumeVarint(v)
			if n >= 0 {
				m.TrainedAt = time.Unix(0, protowire.DecodeZigZag(val)).UTC()
			}
			return n, nil
		case fieldTree:
			return consumeMessage(v, func(msg []byte) error {
				t, err := decodeTree(msg)
				if err != nil {
					return err
				}
				m.trees = append(m.trees, t)
				return nil
			})
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrCorruptModel, version, FormatVersion)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeParams(data []byte, p *Hyperparameters) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case paramTrees:
			return consumeInt(v, &p.Trees)
		case paramLearningRate:
			return consumeDouble(v, &p.LearningRate)
		case paramMaxDepth:
			return consumeInt(v, &p.MaxDepth)
		case paramMinSamplesLeaf:
			return consumeInt(v, &p.MinSamplesLeaf)
		case paramSubsample:
			return consumeDouble(v, &p.Subsample)
		case paramSeed:
			val, n := protowire.ConsumeVarint(v)
			p.Seed = protowire.DecodeZigZag(val)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

func decodeStats(data []byte, s *FitStats) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case statRows:
			return consumeInt(v, &s.Rows)
		case statRMSE:
			return consumeDouble(v, &s.RMSE)
		case statMAE:
			return consumeDouble(v, &s.MAE)
		case statR2:
			return consumeDouble(v, &s.R2)
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

func decodeTree(data []byte) (tree, error) {
	var t tree
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != treeNode {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		return consumeMessage(v, func(msg []byte) error {
			n, err := decodeNode(msg)
			if err != nil {
				return err
			}
			t.nodes = append(t.nodes, n)
			return nil
		})
	})
	return t, err
}

func decodeNode(data []byte) (node, error) {
	n := node{Feature: leafFeature}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case nodeFeature:
			val, l := protowire.ConsumeVarint(v)
			n.Feature = int32(protowire.DecodeZigZag(val))
			return l, nil
		case nodeThreshold:
			return consumeDouble(v, &n.Threshold)
		case nodeLeft:
			val, l := protowire.ConsumeVarint(v)
			n.Left = int32(val)
			return l, nil
		case nodeRight:
			val, l := protowire.ConsumeVarint(v)
			n.Right = int32(val)
			return l, nil
		case nodeValue:
			return consumeDouble(v, &n.Value)
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	return n, err
}

// walk iterates the fields of one message. fn consumes the value that
// follows the tag and returns its length, or a negative protowire error code.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorruptModel, protowire.ParseError(n))
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorruptModel, num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func consumeDouble(v []byte, out *float64) (int, error) {
	bits, n := protowire.ConsumeFixed64(v)
	if n >= 0 {
		*out = math.Float64frombits(bits)
	}
	return n, nil
}

func consumeInt(v []byte, out *int) (int, error) {
	val, n := protowire.ConsumeVarint(v)
	if n >= 0 {
		*out = int(val)
	}
	return n, nil
}

func consumeMessage(v []byte, fn func(msg []byte) error) (int, error) {
	msg, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return n, nil
	}
	if err := fn(msg); err != nil {
		return 0, err
	}
	return n, nil
}
