package generator

import "encoding/json"

// Options carries the per-request generation options captured at
// submission. The zero value of every field means "use the backend
// default". Unknown option keys are ignored at decode time, so this
// struct is the full vocabulary the backends consume.
type Options struct {
	// VideoSize is the square output size for backends that render square
	// video (mock, sadtalker).
	VideoSize int `json:"video_size,omitempty" validate:"omitempty,min=16,max=4096"`
	// VideoFPS is the output frame rate for the mock backend.
	VideoFPS int `json:"video_fps,omitempty" validate:"omitempty,min=1,max=120"`

	// Width and Height select the output resolution for backends that
	// render free aspect ratios (svd, remote).
	Width  int `json:"width,omitempty" validate:"omitempty,min=16,max=4096"`
	Height int `json:"height,omitempty" validate:"omitempty,min=16,max=4096"`

	// NumFrames is the number of motion frames to synthesize.
	NumFrames int `json:"num_frames,omitempty" validate:"omitempty,min=1,max=600"`
	// NumInferenceSteps is the diffusion step count.
	NumInferenceSteps int `json:"num_inference_steps,omitempty" validate:"omitempty,min=1,max=200"`
	// MotionBucketID tunes how much motion the diffusion model produces.
	MotionBucketID int `json:"motion_bucket_id,omitempty" validate:"omitempty,min=1,max=255"`
	// NoiseAugStrength is the conditioning noise level.
	NoiseAugStrength float64 `json:"noise_aug_strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	// Seed pins the random seed for reproducible motion. Nil means random.
	Seed *int64 `json:"seed,omitempty"`

	// Preprocess selects the face-cropping mode for sadtalker.
	Preprocess string `json:"preprocess,omitempty" validate:"omitempty,oneof=crop full extfull"`
	// Enhancer selects an optional face restoration pass for sadtalker.
	Enhancer string `json:"enhancer,omitempty" validate:"omitempty,oneof=gfpgan RestoreFormer"`
	// Still reduces head motion for sadtalker.
	Still bool `json:"still,omitempty"`

	// ExtendToAudio stretches the rendered motion to cover the speech track
	// when the track runs longer. Nil means the backend default.
	ExtendToAudio *bool `json:"extend_to_audio,omitempty"`
	// ExtendStrategy selects how the motion is stretched.
	ExtendStrategy string `json:"extend_strategy,omitempty" validate:"omitempty,oneof=freeze loop"`
}

// Canonical returns the deterministic JSON encoding used for cache
// fingerprints. encoding/json writes struct fields in declaration order,
// so equal options always produce equal bytes.
func (o Options) Canonical() []byte {
	b, err := json.Marshal(o)
	if err != nil {
		// Unreachable for a struct of plain scalars.
		return []byte("{}")
	}
	return b
}
