package schema

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
)

// Decimal is a 96-bit scaled integer in the lo/mid/hi/flags layout: bits 16-23 of Flags
// hold the scale, bit 31 the sign.
type Decimal struct {
	Lo    int32
	Mid   int32
	Hi    int32
	Flags int32
}

const (
	decimalScaleShift = 16
	decimalSignMask   = int32(-1 << 31)
)

// NewDecimal builds a Decimal of unscaled/10^scale.
func NewDecimal(unscaled int64, scale uint8) Decimal {
	var d Decimal
	mag := uint64(unscaled)
	if unscaled < 0 {
		mag = uint64(-unscaled)
		d.Flags = decimalSignMask
	}
	d.Lo = int32(uint32(mag))
	d.Mid = int32(uint32(mag >> 32))
	d.Flags |= int32(scale) << decimalScaleShift
	return d
}

func (d Decimal) Scale() uint8 {
	return uint8(d.Flags >> decimalScaleShift)
}

func (d Decimal) Negative() bool {
	return d.Flags&decimalSignMask != 0
}

// Unscaled returns the 96-bit magnitude with the sign applied.
func (d Decimal) Unscaled() *big.Int {
	v := new(big.Int).SetUint64(uint64(uint32(d.Hi)))
	v.Lsh(v, 32)
	v.Or(v, new(big.Int).SetUint64(uint64(uint32(d.Mid))))
	v.Lsh(v, 32)
	v.Or(v, new(big.Int).SetUint64(uint64(uint32(d.Lo))))
	if d.Negative() {
		v.Neg(v)
	}
	return v
}

func (d Decimal) String() string {
	s := new(big.Rat).SetFrac(d.Unscaled(), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale())), nil))
	return s.FloatString(int(d.Scale()))
}

// Guid is a 128-bit identifier carried as 16 raw bytes.
type Guid [16]byte

func (g Guid) String() string {
	var buf [36]byte
	hex.Encode(buf[0:8], g[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], g[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], g[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], g[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], g[10:16])
	return string(buf[:])
}

// ParseGuid accepts the 8-4-4-4-12 hex form.
func ParseGuid(s string) (Guid, error) {
	var g Guid
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return g, fmt.Errorf("schema: invalid guid %q", s)
	}
	compact := s[0:8] + s[9:13] + s[14:18] + s[19:23] + s[24:36]
	if _, err := hex.Decode(g[:], []byte(compact)); err != nil {
		return g, fmt.Errorf("schema: invalid guid %q: %w", s, err)
	}
	return g, nil
}

// Timestamps travel as 100ns ticks since 0001-01-01T00:00:00Z.
const (
	ticksPerSecond  = 10_000_000
	nanosPerTick    = 100
	unixEpochTicks  = 621_355_968_000_000_000
	maxTicksAllowed = 3_155_378_975_999_999_999
)

var (
	minTicksTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	endTicksTime = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)
)

// CheckTime rejects instants at or after year 10000, which no peer can decode.
func CheckTime(t time.Time) error {
	if !t.Before(endTicksTime) {
		return fmt.Errorf("%w: schema: time %s beyond year 9999", protocol.ErrUnsupportedValue, t.UTC().Format(time.RFC3339))
	}
	return nil
}

// TimeToTicks converts t to wire ticks. Times before year 1 clamp to zero.
func TimeToTicks(t time.Time) (uint64, error) {
	if err := CheckTime(t); err != nil {
		return 0, err
	}
	t = t.UTC()
	if t.Before(minTicksTime) {
		return 0, nil
	}
	return uint64(t.Unix()*ticksPerSecond + int64(t.Nanosecond()/nanosPerTick) + unixEpochTicks), nil
}

// TicksToTime converts wire ticks back to UTC. Precision is 100ns.
func TicksToTime(ticks uint64) (time.Time, error) {
	if ticks > maxTicksAllowed {
		return time.Time{}, fmt.Errorf("schema: ticks %d beyond year 9999", ticks)
	}
	rel := int64(ticks) - unixEpochTicks
	sec := rel / ticksPerSecond
	rem := rel % ticksPerSecond
	if rem < 0 {
		rem += ticksPerSecond
		sec--
	}
	return time.Unix(sec, rem*nanosPerTick).UTC(), nil
}
