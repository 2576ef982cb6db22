package video

import (
	"math"
	"strconv"
)

// SizeMode は出力解像度の決め方です。
type SizeMode int

const (
	// SizeRequested は要求された高さとアスペクト比から計算した解像度を使います。
	SizeRequested SizeMode = iota
	// SizeFixed は Preset.Width/Height を使います。
	SizeFixed
)

// BitrateMode は映像ビットレートの決め方です。
type BitrateMode int

const (
	BitrateRequested BitrateMode = iota
	BitrateTier
	BitrateFixed
)

// Preset はフォールバックラダーの1段です。
type Preset struct {
	Name    string
	Size    SizeMode
	Width   int
	Height  int
	Bitrate BitrateMode
	// FixedBitrate は Bitrate が BitrateFixed のときに使います。
	FixedBitrate string
	Speed        string
	Options      []string
}

// compatOptions は再生互換性のための共通オプションに extra を続けた新しいスライスを返します。
func compatOptions(extra ...string) []string {
	return append([]string{"-movflags", "+faststart", "-pix_fmt", "yuv420p"}, extra...)
}

// DefaultLadder は互換性が高くなる順に並べた4段のプリセットを返します。
// 呼び出しごとに新しいスライスを返します。
func DefaultLadder() []Preset {
	return []Preset{
		{
			Name:    "requested",
			Size:    SizeRequested,
			Bitrate: BitrateRequested,
			Speed:   "medium",
			Options: compatOptions(),
		},
		{
			Name:    "tier-bitrate",
			Size:    SizeRequested,
			Bitrate: BitrateTier,
			Speed:   "medium",
			Options: compatOptions("-strict", "experimental"),
		},
		{
			Name:         "conservative",
			Size:         SizeRequested,
			Bitrate:      BitrateFixed,
			FixedBitrate: "1M",
			Speed:        "ultrafast",
			Options:      compatOptions("-strict", "experimental", "-vf", "format=yuv420p"),
		},
		{
			Name:         "low-resolution",
			Size:         SizeFixed,
			Width:        640,
			Height:       360,
			Bitrate:      BitrateFixed,
			FixedBitrate: "800k",
			Speed:        "ultrafast",
			Options:      compatOptions("-strict", "experimental", "-vf", "format=yuv420p"),
		},
	}
}

// Plan は1回のエンコードで確定したパラメータです。
type Plan struct {
	Width   int
	Height  int
	FPS     int
	Bitrate string
}

// Plan は元動画の解像度と要求からこの段のパラメータを決めます。
func (p Preset) Plan(src StreamInfo, opts Options) Plan {
	plan := Plan{FPS: opts.FPS}
	switch p.Size {
	case SizeFixed:
		plan.Width, plan.Height = p.Width, p.Height
	default:
		plan.Width, plan.Height = OutputSize(src.Width, src.Height, opts.TargetHeight)
	}
	switch p.Bitrate {
	case BitrateTier:
		plan.Bitrate = TierBitrate(opts.TargetHeight)
	case BitrateFixed:
		plan.Bitrate = p.FixedBitrate
	default:
		plan.Bitrate = opts.Bitrate
	}
	return plan
}

// Args は ffmpeg のコマンドライン引数を返します。
func (p Preset) Args(input, output string, plan Plan) []string {
	args := []string{
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-b:v", plan.Bitrate,
		"-s", strconv.Itoa(plan.Width) + "x" + strconv.Itoa(plan.Height),
		"-r", strconv.Itoa(plan.FPS),
		"-preset", p.Speed,
	}
	args = append(args, p.Options...)
	return append(args, "-f", "mp4", output)
}

// OutputSize はアスペクト比を保ったまま targetHeight に合わせた偶数の解像度を返します。
// 幅・高さが取れない場合は 1280x720 とみなします。
func OutputSize(srcWidth, srcHeight, targetHeight int) (int, int) {
	if srcWidth <= 0 {
		srcWidth = defaultWidth
	}
	if srcHeight <= 0 {
		srcHeight = defaultHeight
	}
	width := int(math.Round(float64(targetHeight) * float64(srcWidth) / float64(srcHeight)))
	return evenUp(width), evenUp(targetHeight)
}

func evenUp(n int) int {
	return n + n%2
}

// TierBitrate は品質ごとの推奨ビットレートです。
func TierBitrate(targetHeight int) string {
	switch targetHeight {
	case 1080:
		return "4M"
	case 720:
		return "2M"
	default:
		return "1M"
	}
}
