package dedup

import (
	"bytes"
	"image"
	"math"
	"sync"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	hashBits = 64
	histBins = 8

	phashWeight = 0.7
	histWeight  = 0.3

	DefaultThreshold = 0.85
)

type feature struct {
	hash *goimagehash.ImageHash
	hist []float64
	ok   bool
}

// Deduplicate drops near-duplicate images from a batch, preserving the
// relative order of accepted representatives. Greedy: the first image is
// always kept; each later image is compared against every accepted
// representative and discarded when the combined similarity exceeds the
// threshold. O(n²) in accepted count, fine for the small batches this
// service sees.
func Deduplicate(images [][]byte, threshold float64) [][]byte {
	features := computeFeatures(images)

	var accepted []int
	for i := range images {
		if isDuplicate(features, accepted, i, threshold) {
			continue
		}
		accepted = append(accepted, i)
	}

	out := make([][]byte, len(accepted))
	for i, idx := range accepted {
		out[i] = images[idx]
	}
	return out
}

func isDuplicate(features []feature, accepted []int, i int, threshold float64) bool {
	if !features[i].ok {
		// Undecodable input cannot be compared; accept it and let the
		// worker report the real failure.
		return false
	}
	for _, j := range accepted {
		if !features[j].ok {
			continue
		}
		if similarity(features[i], features[j]) > threshold {
			return true
		}
	}
	return false
}

// computeFeatures hashes and histograms every image in parallel.
func computeFeatures(images [][]byte) []feature {
	features := make([]feature, len(images))
	var wg sync.WaitGroup
	for i, data := range images {
		wg.Add(1)
		go func(i int, data []byte) {
			defer wg.Done()
			features[i] = computeFeature(data)
		}(i, data)
	}
	wg.Wait()
	return features
}

func computeFeature(data []byte) feature {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return feature{}
	}

	hash, err := goimagehash.AverageHash(img)
	if err != nil {
		return feature{}
	}

	return feature{
		hash: hash,
		hist: histogram(img),
		ok:   true,
	}
}

// similarity combines normalized perceptual-hash agreement with color
// histogram correlation: 0.7 * (1 - hamming/64) + 0.3 * correlation.
func similarity(a, b feature) float64 {
	dist, err := a.hash.Distance(b.hash)
	if err != nil {
		return 0
	}
	phashSim := 1 - float64(dist)/hashBits
	return phashWeight*phashSim + histWeight*correlation(a.hist, b.hist)
}

// histogram builds a normalized 8x8x8 RGB color histogram.
func histogram(img image.Image) []float64 {
	hist := make([]float64, histBins*histBins*histBins)
	bounds := img.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			ri := int(r>>8) * histBins / 256
			gi := int(g>>8) * histBins / 256
			bi := int(b>>8) * histBins / 256
			hist[ri*histBins*histBins+gi*histBins+bi]++
		}
	}

	var norm float64
	for _, v := range hist {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range hist {
			hist[i] /= norm
		}
	}
	return hist
}

// correlation is the Pearson correlation coefficient between two histograms
// (the same measure OpenCV calls HISTCMP_CORREL).
func correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var num, denomA, denomB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denomA += da * da
		denomB += db * db
	}
	if denomA == 0 || denomB == 0 {
		return 0
	}
	return num / math.Sqrt(denomA*denomB)
}
