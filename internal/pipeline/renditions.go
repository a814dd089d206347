package pipeline

import "github.com/okarlsson/imagepress/internal/domain"

// Rendition describes one derived artifact. Key doubles as the result
// mapping key and the filename suffix.
type Rendition struct {
	Key       string
	MaxWidth  int
	MaxHeight int
	Quality   int
	StepLabel string
}

// Renditions produced for every job, in processing order.
var Renditions = []Rendition{
	{
		Key:       domain.ArtifactResizedCompressed,
		MaxWidth:  800,
		MaxHeight: 600,
		Quality:   DefaultQuality,
		StepLabel: "Resizing and Compressing",
	},
	{
		Key:       domain.ArtifactThumbnail,
		MaxWidth:  128,
		MaxHeight: 128,
		Quality:   DefaultQuality,
		StepLabel: "Generating Thumbnail",
	},
}
