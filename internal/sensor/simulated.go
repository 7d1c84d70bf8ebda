package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
)

// Clock returns the capture time stamped on each sample
type Clock func() time.Time

// Layout describes how a modality is persisted
type Layout struct {
	Kind      recorder.Kind
	FileName  string
	Header    string
	Folder    string
	Extension string
	// Channels is the number of values per row, or bytes per pixel for frames
	Channels int
}

var layouts = map[recorder.Modality]Layout{
	recorder.Hand:       {Kind: recorder.KindRow, FileName: "Hand.csv", Header: landmarkHeader("hand", 21), Channels: 21 * 3},
	recorder.Body:       {Kind: recorder.KindRow, FileName: "Body.csv", Header: landmarkHeader("joint", 17), Channels: 17 * 3},
	recorder.Face:       {Kind: recorder.KindRow, FileName: "Face.csv", Header: landmarkHeader("face", 68), Channels: 68 * 3},
	recorder.BlendShape: {Kind: recorder.KindRow, FileName: "BlendShape.csv", Header: indexedHeader("shape", 52), Channels: 52},
	recorder.SpatialMap: {Kind: recorder.KindRow, FileName: "SpatialMap.csv", Header: "time,x,y,z,qx,qy,qz,qw", Channels: 7},
	recorder.Depth:      {Kind: recorder.KindBlob, Folder: "Depth", Extension: "depth", Channels: 2},
	recorder.Color:      {Kind: recorder.KindBlob, Folder: "Color", Extension: "rgb", Channels: 3},
}

// LayoutFor returns the persistence layout of m
func LayoutFor(m recorder.Modality) (Layout, error) {
	l, ok := layouts[m]
	if !ok {
		return Layout{}, fmt.Errorf("no layout for modality %s", m)
	}
	return l, nil
}

func landmarkHeader(prefix string, points int) string {
	cols := make([]string, 0, points*3+1)
	cols = append(cols, "time")
	for i := 0; i < points; i++ {
		for _, axis := range []string{"x", "y", "z"} {
			cols = append(cols, fmt.Sprintf("%s%d_%s", prefix, i, axis))
		}
	}
	return strings.Join(cols, ",")
}

func indexedHeader(prefix string, n int) string {
	cols := make([]string, 0, n+1)
	cols = append(cols, "time")
	for i := 0; i < n; i++ {
		cols = append(cols, fmt.Sprintf("%s%d", prefix, i))
	}
	return strings.Join(cols, ",")
}

// ValidScale reports whether s is a supported color downscale factor
func ValidScale(s int) bool {
	switch s {
	case 1, 2, 4, 10:
		return true
	}
	return false
}

// MaxRate is the highest sample rate a source accepts, in samples per second.
const MaxRate = 1000

func interval(rate float64) (time.Duration, error) {
	if rate <= 0 || rate > MaxRate {
		return 0, fmt.Errorf("invalid sample rate %v (must be > 0 and <= %d)", rate, MaxRate)
	}
	d := time.Duration(float64(time.Second) / rate)
	if d <= 0 {
		return 0, fmt.Errorf("sample rate %v leaves no interval between samples", rate)
	}
	return d, nil
}

func loop(ctx context.Context, rate float64, fn func()) error {
	d, err := interval(rate)
	if err != nil {
		return err
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			fn()
		}
	}
}

// Rows is a synthetic tracker emitting Channels values per sample, drifting
// smoothly so consecutive rows look like tracked motion.
type Rows struct {
	modality recorder.Modality
	channels int
	rate     float64
	clock    Clock
	rng      *rand.Rand
	phase    float64
}

func NewRows(m recorder.Modality, rate float64, clock Clock) (*Rows, error) {
	l, err := LayoutFor(m)
	if err != nil {
		return nil, err
	}
	if l.Kind != recorder.KindRow {
		return nil, fmt.Errorf("modality %s is not a row modality", m)
	}
	if _, err := interval(rate); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &Rows{
		modality: m,
		channels: l.Channels,
		rate:     rate,
		clock:    clock,
		rng:      rand.New(rand.NewSource(int64(m) + 1)),
	}, nil
}

func (r *Rows) Modality() recorder.Modality { return r.modality }

// Next renders one sample
func (r *Rows) Next() string {
	r.phase += 0.05
	var sb strings.Builder
	for i := 0; i < r.channels; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		v := math.Sin(r.phase+float64(i)*0.1) + r.rng.NormFloat64()*0.01
		sb.WriteString(strconv.FormatFloat(v, 'f', 4, 64))
	}
	return sb.String()
}

func (r *Rows) Run(ctx context.Context, emit func(time.Time, string)) error {
	return loop(ctx, r.rate, func() { emit(r.clock(), r.Next()) })
}

// Frames is a synthetic camera producing raw images. Depth frames are
// little-endian uint16 millimetres, color frames are packed RGB.
type Frames struct {
	modality recorder.Modality
	width    int
	height   int
	channels int
	rate     float64
	clock    Clock
	seq      int
}

// NewFrames builds a frame source. scale divides both dimensions and only
// applies to color.
func NewFrames(m recorder.Modality, width, height, scale int, rate float64, clock Clock) (*Frames, error) {
	l, err := LayoutFor(m)
	if err != nil {
		return nil, err
	}
	if l.Kind != recorder.KindBlob {
		return nil, fmt.Errorf("modality %s is not a frame modality", m)
	}
	if _, err := interval(rate); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid %s resolution %dx%d", m, width, height)
	}
	if m == recorder.Color {
		if !ValidScale(scale) {
			return nil, fmt.Errorf("invalid color scale %d (must be 1, 2, 4 or 10)", scale)
		}
		width, height = width/scale, height/scale
		if width == 0 || height == 0 {
			return nil, fmt.Errorf("color scale %d leaves an empty frame", scale)
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Frames{
		modality: m,
		width:    width,
		height:   height,
		channels: l.Channels,
		rate:     rate,
		clock:    clock,
	}, nil
}

func (f *Frames) Modality() recorder.Modality { return f.modality }

// Size returns the frame dimensions after scaling
func (f *Frames) Size() (int, int) { return f.width, f.height }

// FrameBytes returns the byte length of every frame
func (f *Frames) FrameBytes() int { return f.width * f.height * f.channels }

// Next renders one frame
func (f *Frames) Next() []byte {
	f.seq++
	buf := make([]byte, f.FrameBytes())
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			off := (y*f.width + x) * f.channels
			if f.modality == recorder.Depth {
				mm := uint16(500 + (x+y+f.seq)%4000)
				binary.LittleEndian.PutUint16(buf[off:], mm)
				continue
			}
			buf[off] = byte(x + f.seq)
			buf[off+1] = byte(y + f.seq)
			buf[off+2] = byte(x ^ y)
		}
	}
	return buf
}

func (f *Frames) Run(ctx context.Context, emit func(time.Time, []byte)) error {
	return loop(ctx, f.rate, func() { emit(f.clock(), f.Next()) })
}
