package transcription

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
)

const (
	// NFFT is the STFT window length (25ms at 16kHz).
	NFFT = 400
	// HopLength is the STFT stride (10ms at 16kHz).
	HopLength = 160
	// NumFrames is the frame count of a full 30 second window.
	NumFrames = audio.NumSamples / HopLength
)

var (
	filterMu    sync.Mutex
	filterBanks = map[int][][]float64{}

	hannOnce   sync.Once
	hannWindow []float64
)

// LogMelSpectrogram computes the Whisper log-Mel features of samples.
// The result is row-major [nMels][frames] where frames is len(samples)/HopLength.
func LogMelSpectrogram(samples []float32, nMels int) ([]float32, int, error) {
	if nMels <= 0 {
		return nil, 0, fmt.Errorf("mel bin count must be positive, got %d", nMels)
	}
	if len(samples) < NFFT {
		return nil, 0, fmt.Errorf("need at least %d samples, got %d", NFFT, len(samples))
	}

	window := hann()
	filters := melFilterBank(nMels)
	padded := reflectPad(samples, NFFT/2)

	// The last STFT frame is dropped.
	frames := 1 + (len(padded)-NFFT)/HopLength - 1
	numBins := NFFT/2 + 1

	fft := fourier.NewFFT(NFFT)
	frame := make([]float64, NFFT)
	coeffs := make([]complex128, numBins)
	power := make([]float64, numBins)

	mel := make([]float64, nMels*frames)
	for f := 0; f < frames; f++ {
		offset := f * HopLength
		for i := 0; i < NFFT; i++ {
			frame[i] = padded[offset+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}
		for m := 0; m < nMels; m++ {
			var sum float64
			row := filters[m]
			for k := 0; k < numBins; k++ {
				sum += row[k] * power[k]
			}
			mel[m*frames+f] = sum
		}
	}

	maxVal := math.Inf(-1)
	for i, v := range mel {
		v = math.Log10(math.Max(v, 1e-10))
		mel[i] = v
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(mel))
	floor := maxVal - 8
	for i, v := range mel {
		out[i] = float32((math.Max(v, floor) + 4) / 4)
	}

	return out, frames, nil
}

// hann returns the periodic Hann window of length NFFT.
func hann() []float64 {
	hannOnce.Do(func() {
		hannWindow = make([]float64, NFFT)
		for i := range hannWindow {
			hannWindow[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/NFFT)
		}
	})
	return hannWindow
}

// reflectPad mirrors pad samples at both ends without repeating the edge.
func reflectPad(samples []float32, pad int) []float64 {
	n := len(samples)
	out := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		out[i] = float64(samples[pad-i])
		out[n+pad+i] = float64(samples[n-2-i])
	}
	for i, s := range samples {
		out[pad+i] = float64(s)
	}
	return out
}

// melFilterBank returns the Slaney-normalized triangular filters mapping
// the NFFT/2+1 power bins to nMels bands between 0 Hz and Nyquist.
func melFilterBank(nMels int) [][]float64 {
	filterMu.Lock()
	defer filterMu.Unlock()

	if fb, ok := filterBanks[nMels]; ok {
		return fb
	}

	numBins := NFFT/2 + 1
	sr := float64(audio.SampleRate)

	fftFreqs := make([]float64, numBins)
	for i := range fftFreqs {
		fftFreqs[i] = float64(i) * sr / NFFT
	}

	minMel := HzToMel(0)
	maxMel := HzToMel(sr / 2)
	melPts := make([]float64, nMels+2)
	for i := range melPts {
		melPts[i] = MelToHz(minMel + (maxMel-minMel)*float64(i)/float64(nMels+1))
	}

	fb := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		lower, center, upper := melPts[m], melPts[m+1], melPts[m+2]
		enorm := 2 / (upper - lower)
		row := make([]float64, numBins)
		for k, f := range fftFreqs {
			down := (f - lower) / (center - lower)
			up := (upper - f) / (upper - center)
			w := math.Max(0, math.Min(down, up))
			row[k] = w * enorm
		}
		fb[m] = row
	}

	filterBanks[nMels] = fb
	return fb
}

const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
	melMinLog   = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27

// HzToMel converts a frequency to the Slaney mel scale.
func HzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLog + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

// MelToHz is the inverse of HzToMel.
func MelToHz(mel float64) float64 {
	if mel >= melMinLog {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLog))
	}
	return mel * melFSp
}
