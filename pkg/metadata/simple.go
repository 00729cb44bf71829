package metadata

import (
	"context"
	"fmt"
)

// SimpleParameter is a static parameter definition.
type SimpleParameter struct {
	ParamID   string
	ParamName string
	Type      string // "string", "int", "float", "bool", "object"
	Required  bool
}

func (p SimpleParameter) ID() string        { return p.ParamID }
func (p SimpleParameter) Name() string      { return p.ParamName }
func (p SimpleParameter) ValueType() string { return p.Type }

// typeMatches loosely checks a dynamic value against a declared type.
// JSON-decoded numbers arrive as float64, so int accepts whole floats.
func typeMatches(declared string, value interface{}) bool {
	if value == nil {
		return false
	}
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "int":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "float", "double":
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case "object", "":
		return true
	}
	return true
}

// SimpleFunction is a static function definition.
type SimpleFunction struct {
	FuncID   string
	FuncName string
	Params   []SimpleParameter
}

func (f SimpleFunction) ID() string   { return f.FuncID }
func (f SimpleFunction) Name() string { return f.FuncName }

func (f SimpleFunction) Inputs() []PropertyMetadata {
	out := make([]PropertyMetadata, len(f.Params))
	for i, p := range f.Params {
		out[i] = p
	}
	return out
}

func (f SimpleFunction) Input(name string) (PropertyMetadata, bool) {
	for _, p := range f.Params {
		if p.ParamID == name || p.ParamName == name {
			return p, true
		}
	}
	return nil, false
}

func (f SimpleFunction) ValidateInput(name string, value interface{}) ValidateResult {
	p, ok := f.Input(name)
	if !ok {
		return ValidateResult{Passed: false, Reason: fmt.Sprintf("parameter %q not declared", name)}
	}
	if !typeMatches(p.ValueType(), value) {
		return ValidateResult{
			Passed: false,
			Reason: fmt.Sprintf("parameter %q expects %s, got %T", name, p.ValueType(), value),
		}
	}
	return ValidateResult{Passed: true}
}

// SimpleMetadata is a static device metadata set.
type SimpleMetadata struct {
	Funcs []SimpleFunction
	Props []SimpleParameter
}

func (m *SimpleMetadata) Function(id string) (FunctionMetadata, bool) {
	for _, f := range m.Funcs {
		if f.FuncID == id {
			return f, true
		}
	}
	return nil, false
}

func (m *SimpleMetadata) Property(id string) (PropertyMetadata, bool) {
	for _, p := range m.Props {
		if p.ParamID == id {
			return p, true
		}
	}
	return nil, false
}

func (m *SimpleMetadata) Functions() []FunctionMetadata {
	out := make([]FunctionMetadata, len(m.Funcs))
	for i, f := range m.Funcs {
		out[i] = f
	}
	return out
}

func (m *SimpleMetadata) Properties() []PropertyMetadata {
	out := make([]PropertyMetadata, len(m.Props))
	for i, p := range m.Props {
		out[i] = p
	}
	return out
}

// SimpleProtocol binds a protocol id to per-product metadata.
type SimpleProtocol struct {
	ProtocolID   string
	ProtocolName string
	Products     map[string]*SimpleMetadata
}

func (p *SimpleProtocol) ID() string   { return p.ProtocolID }
func (p *SimpleProtocol) Name() string { return p.ProtocolName }

func (p *SimpleProtocol) DeviceMetadata(_ context.Context, productID string) (DeviceMetadata, error) {
	md, ok := p.Products[productID]
	if !ok {
		return nil, fmt.Errorf("protocol %s has no metadata for product %s", p.ProtocolID, productID)
	}
	return md, nil
}

// StaticProtocols is an in-memory ProtocolSupports, used by tests and the
// diagnostic CLI.
type StaticProtocols map[string]*SimpleProtocol

func (s StaticProtocols) Protocol(_ context.Context, id string) (ProtocolSupport, bool, error) {
	p, ok := s[id]
	if !ok {
		return nil, false, nil
	}
	return p, true, nil
}
