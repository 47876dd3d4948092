package sdae

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultDimensions is the MNIST layout: 28*28 inputs down to a 10 dimensional embedding.
var DefaultDimensions = []int{28 * 28, 500, 500, 2000, 10}

// Config holds the architecture options of a StackedDenoisingAutoEncoder.
type Config struct {
	// Dimensions from the input size to the embedding size. At least 2 entries.
	Dimensions []int

	// FinalActivation is applied to the embedding and to the reconstruction.
	// Defaults to ActivationNone.
	FinalActivation Activation

	// Seed controls weight initialization. If zero, a time-based seed is used.
	Seed int64
}

// StackedDenoisingAutoEncoder is a symmetric encoder/decoder stack. Every layer
// uses ReLU except the last encoder and last decoder layers, which use
// Config.FinalActivation.
type StackedDenoisingAutoEncoder struct {
	Config  Config
	Encoder Network
	Decoder Network
}

var _ Model = (*StackedDenoisingAutoEncoder)(nil)

// NewStackedDenoisingAutoEncoder builds the encoder dims[0]->...->dims[n] and
// the mirrored decoder dims[n]->...->dims[0].
func NewStackedDenoisingAutoEncoder(cfg Config) (*StackedDenoisingAutoEncoder, error) {
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if len(cfg.Dimensions) < 2 {
		return nil, errors.Errorf("need at least 2 dimensions, got %v", cfg.Dimensions)
	}
	for _, d := range cfg.Dimensions {
		if d <= 0 {
			return nil, errors.Errorf("invalid dimensions %v", cfg.Dimensions)
		}
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	dims := cfg.Dimensions
	last := len(dims) - 2

	m := &StackedDenoisingAutoEncoder{Config: cfg}
	for i := 0; i <= last; i++ {
		act := ActivationReLU
		if i == last {
			act = cfg.FinalActivation
		}
		m.Encoder = append(m.Encoder, NewLayer(fmt.Sprintf("encoder/%d", i), dims[i], dims[i+1], act, rng))
	}
	for i := last; i >= 0; i-- {
		act := ActivationReLU
		if i == 0 {
			act = cfg.FinalActivation
		}
		m.Decoder = append(m.Decoder, NewLayer(fmt.Sprintf("decoder/%d", last-i), dims[i+1], dims[i], act, rng))
	}
	return m, nil
}

// Network implements Model: encoder followed by decoder.
func (m *StackedDenoisingAutoEncoder) Network() Network {
	net := make(Network, 0, len(m.Encoder)+len(m.Decoder))
	net = append(net, m.Encoder...)
	return append(net, m.Decoder...)
}

// Stack returns the encoder layer at index and the decoder layer that mirrors it.
func (m *StackedDenoisingAutoEncoder) Stack(index int) (encoder, decoder *Layer, err error) {
	if index < 0 || index >= len(m.Encoder) {
		return nil, nil, errors.Errorf("stack index %d out of range [0, %d)", index, len(m.Encoder))
	}
	return m.Encoder[index], m.Decoder[len(m.Decoder)-1-index], nil
}

// Encode maps a batch [n, dims[0]] to embeddings [n, dims[last]].
func (m *StackedDenoisingAutoEncoder) Encode(x *mat.Dense) (*mat.Dense, error) {
	return m.Encoder.Infer(x)
}

// Reconstruct runs the full autoencoder without dropout.
func (m *StackedDenoisingAutoEncoder) Reconstruct(x *mat.Dense) (*mat.Dense, error) {
	return m.Network().Infer(x)
}

// DenoisingAutoencoder is the single hidden layer autoencoder trained during
// layer-wise pretraining. Dropout with the corruption probability is applied to
// the hidden units while training; the decoder is linear.
type DenoisingAutoencoder struct {
	Encoder *Layer
	Decoder *Layer
}

var _ Model = (*DenoisingAutoencoder)(nil)

// NewDenoisingAutoencoder creates an autoencoder embedding -> hidden -> embedding.
func NewDenoisingAutoencoder(embedding, hidden int, act Activation, corruption float64, rng *rand.Rand) *DenoisingAutoencoder {
	enc := NewLayer("dae/encoder", embedding, hidden, act, rng)
	enc.Dropout = corruption
	dec := NewLayer("dae/decoder", hidden, embedding, ActivationNone, rng)
	return &DenoisingAutoencoder{Encoder: enc, Decoder: dec}
}

// Network implements Model.
func (d *DenoisingAutoencoder) Network() Network { return Network{d.Encoder, d.Decoder} }

// CopyWeights writes the trained weights into the given stacked layers.
func (d *DenoisingAutoencoder) CopyWeights(encoder, decoder *Layer) error {
	if err := encoder.CopyFrom(d.Encoder); err != nil {
		return err
	}
	return decoder.CopyFrom(d.Decoder)
}
