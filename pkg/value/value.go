// Package value implements the RTS2 typed value catalogue: a tagged
// variant type carrying a wire type tag, flags, and a type-specific
// rendering/parsing pair, plus the Catalogue that owns a device's named
// values. See SPEC_FULL.md §3 and §4.6.
//
// Values are constructed through a Catalogue (owned by the device), not
// through a process-wide singleton: there is no hidden global here.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the low 7-bit RTS2 wire type tag (ValueType in the reference
// implementation). Bit-exact with the existing C++ centrald.
type Type uint32

const (
	TypeString Type = 0x00000001
	TypeInt    Type = 0x00000002
	TypeTime   Type = 0x00000003
	TypeDouble Type = 0x00000004
	TypeFloat  Type = 0x00000005
	TypeBool   Type = 0x00000006
	TypeSel    Type = 0x00000007
	TypeLong   Type = 0x00000008
	TypeRaDec  Type = 0x00000009
	TypeAltAz  Type = 0x0000000A
	TypePID    Type = 0x0000000B

	TypeStat      Type = 0x00000010
	TypeMMax      Type = 0x00000020
	TypeRectangle Type = 0x00000030
	TypeArray     Type = 0x00000040
	TypeTimeserie Type = 0x00000070

	TypeMask     Type = 0x0000007f
	TypeBaseMask Type = 0x0000000f
	TypeExtMask  Type = 0x00000070
)

// Flags are the high-bit RTS2 value flags (ValueFlags in the reference
// implementation), OR'd with the Type tag when rendered in an M line.
type Flags uint32

const (
	FlagFITS            Flags = 0x0000_0100
	FlagChanged         Flags = 0x0000_0400
	FlagAutosave        Flags = 0x0080_0000
	FlagNeedSend        Flags = 0x0100_0000
	FlagWritable        Flags = 0x0200_0000
	FlagScriptTemporary Flags = 0x0400_0000
	FlagNotNull         Flags = 0x0800_0000
	FlagWarning         Flags = 0x1000_0000
	FlagError           Flags = 0x2000_0000
	FlagErrorMask       Flags = 0x3000_0000
)

// Statistics carries running sample statistics for a STAT value, updated
// via Welford's algorithm on every non-NaN write.
type Statistics struct {
	Count int64
	Mean  float64
	M2    float64
	Min   float64
	Max   float64
}

func newStatistics() Statistics {
	return Statistics{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Variance returns the sample variance, or 0 with fewer than 2 samples.
func (s Statistics) Variance() float64 {
	if s.Count > 1 {
		return s.M2 / float64(s.Count-1)
	}
	return 0
}

// StdDev returns the sample standard deviation.
func (s Statistics) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

func (s *Statistics) update(v float64) {
	s.Count++
	delta := v - s.Mean
	s.Mean += delta / float64(s.Count)
	delta2 := v - s.Mean
	s.M2 += delta * delta2
	if v < s.Min {
		s.Min = v
	}
	if v > s.Max {
		s.Max = v
	}
}

// ClientChangeFunc is invoked by Value.Parse when a client-originated
// write lands on a value (after it has been applied), carrying the
// previous and new renderings.
type ClientChangeFunc func(v *Value, oldRendering, newRendering string)

// Value is a tagged-variant typed value. The zero value is not usable;
// construct with one of the New* helpers below, then add it to a
// Catalogue with Catalogue.Register.
type Value struct {
	Name        string
	Description string
	Kind        Type
	flags       Flags

	str    string
	num    float64 // DOUBLE/FLOAT/TIME/STAT numeric storage; NaN means null
	intVal *int64  // INTEGER/LONGINT; nil means null
	boolVal *bool  // BOOL; nil means unknown

	selLabels []string
	selIndex  int

	coordX, coordY float64 // RADEC/ALTAZ; NaN pair means null

	stat Statistics

	onClientChange ClientChangeFunc
}

// Option configures a Value at construction time.
type Option func(*Value)

// Writable marks the value as writable by a peer over the X command.
func Writable() Option { return func(v *Value) { v.flags |= FlagWritable } }

// NotWritten to FITS archive; by default values are marked FITS (archived).
func NotFITS() Option { return func(v *Value) { v.flags &^= FlagFITS } }

// NotNull requires the value to always carry a non-null value.
func NotNull() Option { return func(v *Value) { v.flags |= FlagNotNull } }

// Autosave marks the value to be restored from saved state (not used by
// this runtime, carried for wire compatibility with existing centralds).
func Autosave() Option { return func(v *Value) { v.flags |= FlagAutosave } }

// Temporary marks the value as script-temporary.
func Temporary() Option { return func(v *Value) { v.flags |= FlagScriptTemporary } }

// OnClientChange registers the hook invoked after a client-originated write.
func OnClientChange(fn ClientChangeFunc) Option {
	return func(v *Value) { v.onClientChange = fn }
}

func newValue(name, description string, kind Type, opts ...Option) *Value {
	v := &Value{
		Name:        name,
		Description: description,
		Kind:        kind,
		flags:       FlagFITS,
		num:         math.NaN(),
		coordX:      math.NaN(),
		coordY:      math.NaN(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewString constructs a STRING value.
func NewString(name, description, defaultValue string, opts ...Option) *Value {
	v := newValue(name, description, TypeString, opts...)
	v.str = defaultValue
	return v
}

// NewInteger constructs an INTEGER value. A nil default leaves it null.
func NewInteger(name, description string, defaultValue *int64, opts ...Option) *Value {
	v := newValue(name, description, TypeInt, opts...)
	v.intVal = defaultValue
	return v
}

// NewLong constructs a LONGINT value.
func NewLong(name, description string, defaultValue *int64, opts ...Option) *Value {
	v := newValue(name, description, TypeLong, opts...)
	v.intVal = defaultValue
	return v
}

// NewDouble constructs a DOUBLE value. NaN leaves it null.
func NewDouble(name, description string, defaultValue float64, opts ...Option) *Value {
	v := newValue(name, description, TypeDouble, opts...)
	v.num = defaultValue
	return v
}

// NewFloat constructs a FLOAT value; rendered identically to DOUBLE.
func NewFloat(name, description string, defaultValue float64, opts ...Option) *Value {
	v := newValue(name, description, TypeFloat, opts...)
	v.num = defaultValue
	return v
}

// NewTime constructs a TIME value, rendered as DOUBLE Unix seconds.
func NewTime(name, description string, defaultValue float64, opts ...Option) *Value {
	v := newValue(name, description, TypeTime, opts...)
	v.num = defaultValue
	return v
}

// NewBool constructs a BOOL value.
func NewBool(name, description string, defaultValue *bool, opts ...Option) *Value {
	v := newValue(name, description, TypeBool, opts...)
	v.boolVal = defaultValue
	return v
}

// NewSelection constructs a SELECTION value with the given ordered labels.
func NewSelection(name, description string, labels []string, defaultIndex int, opts ...Option) *Value {
	v := newValue(name, description, TypeSel, opts...)
	v.selLabels = append([]string(nil), labels...)
	v.selIndex = defaultIndex
	return v
}

// NewRaDec constructs a RADEC coordinate value.
func NewRaDec(name, description string, ra, dec float64, opts ...Option) *Value {
	v := newValue(name, description, TypeRaDec, opts...)
	v.coordX, v.coordY = ra, dec
	return v
}

// NewAltAz constructs an ALTAZ coordinate value.
func NewAltAz(name, description string, alt, az float64, opts ...Option) *Value {
	v := newValue(name, description, TypeAltAz, opts...)
	v.coordX, v.coordY = alt, az
	return v
}

// NewStat constructs a STAT value: a DOUBLE that additionally tracks
// running statistics on every non-NaN write.
func NewStat(name, description string, defaultValue float64, opts ...Option) *Value {
	v := newValue(name, description, TypeDouble|TypeStat, opts...)
	v.num = defaultValue
	v.stat = newStatistics()
	return v
}

// Flags returns the value's current flag bits.
func (v *Value) Flags() Flags { return v.flags }

// IsWritable reports whether peers may write this value over X.
func (v *Value) IsWritable() bool { return v.flags&FlagWritable != 0 }

// IsSelection reports whether this is a SELECTION value.
func (v *Value) IsSelection() bool { return v.Kind&TypeBaseMask == TypeSel }

// IsStat reports whether this is a STAT value.
func (v *Value) IsStat() bool { return v.Kind&TypeStat != 0 }

// Labels returns the selection's ordered label list (nil for non-selection values).
func (v *Value) Labels() []string { return v.selLabels }

// Stats returns the running statistics for a STAT value.
func (v *Value) Stats() Statistics { return v.stat }

// MarkChanged sets the CHANGED and NEED_SEND flags.
func (v *Value) MarkChanged() { v.flags |= FlagChanged | FlagNeedSend }

// NeedSend reports whether the value has a pending broadcast.
func (v *Value) NeedSend() bool { return v.flags&FlagNeedSend != 0 }

// ResetNeedSend clears the NEED_SEND flag after a broadcast.
func (v *Value) ResetNeedSend() { v.flags &^= FlagNeedSend }

// MetaBits returns the combined type+flags word sent in an M line.
func (v *Value) MetaBits() uint32 { return uint32(v.Kind) | uint32(v.flags) }

// Render produces the wire rendering of the current value, per the type
// table in SPEC_FULL.md §4.6.
func (v *Value) Render() string {
	switch v.Kind & TypeBaseMask {
	case TypeString:
		return v.str
	case TypeInt, TypeLong:
		if v.intVal == nil {
			return ""
		}
		return strconv.FormatInt(*v.intVal, 10)
	case TypeDouble, TypeFloat, TypeTime:
		if math.IsNaN(v.num) {
			return "nan"
		}
		return strconv.FormatFloat(v.num, 'e', 20, 64)
	case TypeBool:
		if v.boolVal == nil {
			return "unknown"
		}
		if *v.boolVal {
			return "true"
		}
		return "false"
	case TypeSel:
		if len(v.selLabels) == 0 {
			return "0"
		}
		if v.selIndex >= 0 && v.selIndex < len(v.selLabels) {
			return strconv.Itoa(v.selIndex)
		}
		return "0"
	case TypeRaDec, TypeAltAz:
		if math.IsNaN(v.coordX) && math.IsNaN(v.coordY) {
			return "nan nan"
		}
		return fmt.Sprintf("%s %s",
			strconv.FormatFloat(v.coordX, 'e', 20, 64),
			strconv.FormatFloat(v.coordY, 'e', 20, 64))
	default:
		return v.str
	}
}

// SelectionName returns the label at the current index, or "" if out of range.
func (v *Value) SelectionName() string {
	if v.selIndex >= 0 && v.selIndex < len(v.selLabels) {
		return v.selLabels[v.selIndex]
	}
	return ""
}

// SetLocal applies a local (device-originated) write, marking the value
// changed. It does not invoke the client-change hook — that hook fires
// only for network-originated writes via Parse.
func (v *Value) SetLocal(newValue interface{}) error {
	old := v.Render()
	if err := v.assign(newValue); err != nil {
		return err
	}
	if v.Render() != old {
		v.MarkChanged()
	}
	return nil
}

// Parse applies a network-originated write (the "X <name> = <val>"
// path): it parses text per the type's parse rule, applies it, marks the
// value changed if it differs, and invokes the client-change hook.
func (v *Value) Parse(text string) error {
	old := v.Render()
	if err := v.parseAndAssign(text); err != nil {
		return err
	}
	rendered := v.Render()
	if rendered != old {
		v.MarkChanged()
	}
	if v.onClientChange != nil {
		v.onClientChange(v, old, rendered)
	}
	return nil
}

func (v *Value) assign(newValue interface{}) error {
	switch v.Kind & TypeBaseMask {
	case TypeString:
		s, ok := newValue.(string)
		if !ok {
			return fmt.Errorf("expected string for %q", v.Name)
		}
		v.str = s
	case TypeInt, TypeLong:
		switch n := newValue.(type) {
		case nil:
			v.intVal = nil
		case int64:
			v.intVal = &n
		case int:
			n64 := int64(n)
			v.intVal = &n64
		default:
			return fmt.Errorf("expected integer for %q", v.Name)
		}
	case TypeDouble, TypeFloat, TypeTime:
		f, ok := newValue.(float64)
		if !ok {
			return fmt.Errorf("expected float for %q", v.Name)
		}
		v.num = f
		if v.IsStat() && !math.IsNaN(f) {
			v.stat.update(f)
		}
	case TypeBool:
		switch b := newValue.(type) {
		case nil:
			v.boolVal = nil
		case bool:
			v.boolVal = &b
		default:
			return fmt.Errorf("expected bool for %q", v.Name)
		}
	case TypeSel:
		i, ok := newValue.(int)
		if !ok {
			return fmt.Errorf("expected selection index for %q", v.Name)
		}
		v.selIndex = i
	case TypeRaDec, TypeAltAz:
		pair, ok := newValue.([2]float64)
		if !ok {
			return fmt.Errorf("expected coordinate pair for %q", v.Name)
		}
		v.coordX, v.coordY = pair[0], pair[1]
	default:
		s, ok := newValue.(string)
		if !ok {
			return fmt.Errorf("unsupported assignment for %q", v.Name)
		}
		v.str = s
	}
	return nil
}

func (v *Value) parseAndAssign(text string) error {
	candidate, err := v.ParseCandidate(text)
	if err != nil {
		return err
	}
	return v.assign(candidate)
}

// ParseCandidate parses text per the type's parse rule and returns the
// resulting typed value (the same shape assign expects) without applying
// it. Callers that must decide whether to apply a write now or defer it
// use this to obtain a value fit for QueueValueChange.
func (v *Value) ParseCandidate(text string) (interface{}, error) {
	switch v.Kind & TypeBaseMask {
	case TypeString:
		return text, nil
	case TypeInt, TypeLong:
		if text == "" {
			if v.flags&FlagNotNull != 0 {
				return nil, fmt.Errorf("value %q may not be null", v.Name)
			}
			return nil, nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q for %q: %w", text, v.Name, err)
		}
		return n, nil
	case TypeDouble, TypeFloat, TypeTime:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q for %q: %w", text, v.Name, err)
		}
		return f, nil
	case TypeBool:
		switch strings.ToLower(text) {
		case "true", "on", "1", "yes":
			return true, nil
		case "false", "off", "0", "no":
			return false, nil
		default:
			return nil, fmt.Errorf("invalid boolean %q for %q", text, v.Name)
		}
	case TypeSel:
		if n, err := strconv.Atoi(text); err == nil {
			if n < 0 || n >= len(v.selLabels) {
				return nil, fmt.Errorf("selection index %d out of range for %q", n, v.Name)
			}
			return n, nil
		}
		for i, label := range v.selLabels {
			if label == text {
				return i, nil
			}
		}
		return nil, fmt.Errorf("invalid selection %q for %q", text, v.Name)
	case TypeRaDec, TypeAltAz:
		parts := strings.Fields(text)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected 2 floats for %q, got %d", v.Name, len(parts))
		}
		x, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q for %q: %w", parts[0], v.Name, err)
		}
		y, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q for %q: %w", parts[1], v.Name, err)
		}
		return [2]float64{x, y}, nil
	default:
		return text, nil
	}
}
