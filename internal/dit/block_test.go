package dit

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T, cfg BlockConfig) *DiTBlock {
	t.Helper()
	b, err := NewDiTBlock(cfg, nil)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	b.Init(rng)
	b.InitModulation(rng, 0.02)
	return b
}

func TestDiTBlockPreservesShape(t *testing.T) {
	for _, moe := range []bool{false, true} {
		cfg := smallConfig()
		cfg.UseMoE = moe
		b := newTestBlock(t, cfg)
		for _, tc := range []int{1, 3, 11} {
			x := randTensor(1, 2, 6, cfg.NEmbd)
			c := randTensor(2, 2, tc, cfg.NEmbd)
			cond := randTensor(3, 2, cfg.PooledCaptionNEmbd)
			y, err := b.Forward(x, c, cond)
			require.NoError(t, err)
			require.Equal(t, x.Shape, y.Shape, "moe=%v tc=%d", moe, tc)
		}
	}
}

func TestDiTBlockRejectsIndivisibleHeads(t *testing.T) {
	cfg := smallConfig()
	cfg.NEmbd, cfg.HeadSize = 100, 7
	_, err := NewDiTBlock(cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDiTBlockRejectsBadInputs(t *testing.T) {
	cfg := smallConfig()
	b := newTestBlock(t, cfg)
	x := randTensor(1, 2, 4, cfg.NEmbd)
	c := randTensor(2, 2, 3, cfg.NEmbd)

	_, err := b.Forward(x, c, randTensor(3, 2, cfg.NEmbd+1))
	require.ErrorIs(t, err, ErrShape)
	_, err = b.Forward(x, c, randTensor(3, 1, cfg.PooledCaptionNEmbd))
	require.ErrorIs(t, err, ErrShape)
	_, err = b.Forward(randTensor(1, 8, cfg.NEmbd), c, randTensor(3, 2, cfg.PooledCaptionNEmbd))
	require.ErrorIs(t, err, ErrShape)
	_, err = b.Forward(x, randTensor(2, 3, 3, cfg.NEmbd), randTensor(3, 2, cfg.PooledCaptionNEmbd))
	require.ErrorIs(t, err, ErrShape)
}

// With a zero modulation projection both gates are zero, so only the
// unmodulated cross-attention residual remains.
func TestDiTBlockZeroModulationKeepsCrossAttention(t *testing.T) {
	cfg := smallConfig()
	b, err := NewDiTBlock(cfg, nil)
	require.NoError(t, err)
	b.Init(rand.New(rand.NewSource(4)))

	x := randTensor(1, 2, 5, cfg.NEmbd)
	c := randTensor(2, 2, 3, cfg.NEmbd)
	cond := randTensor(3, 2, cfg.PooledCaptionNEmbd)

	got, err := b.Forward(x, c, cond)
	require.NoError(t, err)

	h, err := b.Ln2.Forward(x)
	require.NoError(t, err)
	h, err = b.CxAttn.Forward(h, c)
	require.NoError(t, err)
	want := x.Clone()
	tensor.Add(want.Data, h.Data)

	if diff := cmp.Diff(want.Data, got.Data, approx); diff != "" {
		t.Fatalf("zero-modulation block mismatch (-want +got):\n%s", diff)
	}
}

// modChunk returns chunk k of the (B,6C) modulation output as a (B,C) tensor.
func modChunk(mod *tensor.Tensor, k, c int) *tensor.Tensor {
	b := mod.Dim(0)
	out := tensor.New(b, c)
	for bi := range b {
		off := bi*6*c + k*c
		copy(out.Data[bi*c:(bi+1)*c], mod.Data[off:off+c])
	}
	return out
}

func modulateRef(h, shift, scale *tensor.Tensor) *tensor.Tensor {
	b, n, c := h.Dim(0), h.Dim(1), h.Dim(2)
	out := tensor.New(b, n, c)
	for bi := range b {
		for ti := range n {
			for j := range c {
				i := (bi*n+ti)*c + j
				out.Data[i] = h.Data[i]*(1+scale.Data[bi*c+j]) + shift.Data[bi*c+j]
			}
		}
	}
	return out
}

func gateRef(x, y, gate *tensor.Tensor) *tensor.Tensor {
	b, n, c := x.Dim(0), x.Dim(1), x.Dim(2)
	out := x.Clone()
	for bi := range b {
		for ti := range n {
			for j := range c {
				i := (bi*n+ti)*c + j
				out.Data[i] += gate.Data[bi*c+j] * y.Data[i]
			}
		}
	}
	return out
}

func TestDiTBlockModulatedForwardMatchesReference(t *testing.T) {
	for _, moe := range []bool{false, true} {
		cfg := smallConfig()
		cfg.UseMoE = moe
		b, err := NewDiTBlock(cfg, nil)
		require.NoError(t, err)
		rng := rand.New(rand.NewSource(9))
		b.Init(rng)
		b.InitModulation(rng, 0.5)

		x := randTensor(1, 2, 6, cfg.NEmbd)
		c := randTensor(2, 2, 3, cfg.NEmbd)
		cond := randTensor(3, 2, cfg.PooledCaptionNEmbd)

		got, err := b.Forward(x, c, cond)
		require.NoError(t, err)

		n := cfg.NEmbd
		act := cond.Clone()
		tensor.Apply(act.Data, tensor.GeluTanh)
		mod, err := b.AdaLN.Forward(act)
		require.NoError(t, err)
		shiftMSA, scaleMSA, gateMSA := modChunk(mod, 0, n), modChunk(mod, 1, n), modChunk(mod, 2, n)
		shiftMLP, scaleMLP, gateMLP := modChunk(mod, 3, n), modChunk(mod, 4, n), modChunk(mod, 5, n)

		h, err := b.Ln1.Forward(x)
		require.NoError(t, err)
		h, err = b.Attn.Forward(modulateRef(h, shiftMSA, scaleMSA))
		require.NoError(t, err)
		want := gateRef(x, h, gateMSA)

		h, err = b.Ln2.Forward(want)
		require.NoError(t, err)
		h, err = b.CxAttn.Forward(h, c)
		require.NoError(t, err)
		tensor.Add(want.Data, h.Data)

		h, err = b.Ln3.Forward(want)
		require.NoError(t, err)
		h, err = b.MLP.Forward(modulateRef(h, shiftMLP, scaleMLP))
		require.NoError(t, err)
		want = gateRef(want, h, gateMLP)

		require.Equal(t, x.Shape, got.Shape)
		if diff := cmp.Diff(want.Data, got.Data, approx); diff != "" {
			t.Fatalf("moe=%v modulated block mismatch (-want +got):\n%s", moe, diff)
		}
	}
}

// Every modulation chunk must reach the output: perturbing any one of the
// six slices of the AdaLN bias changes the result.
func TestDiTBlockEveryModulationChunkMatters(t *testing.T) {
	cfg := smallConfig()
	b := newTestBlock(t, cfg)
	x := randTensor(1, 1, 4, cfg.NEmbd)
	c := randTensor(2, 1, 2, cfg.NEmbd)
	cond := randTensor(3, 1, cfg.PooledCaptionNEmbd)

	base, err := b.Forward(x, c, cond)
	require.NoError(t, err)

	n := cfg.NEmbd
	for k := range 6 {
		saved := append([]float32(nil), b.AdaLN.B[k*n:(k+1)*n]...)
		for j := k * n; j < (k+1)*n; j++ {
			b.AdaLN.B[j] += 0.25
		}
		got, err := b.Forward(x, c, cond)
		copy(b.AdaLN.B[k*n:(k+1)*n], saved)
		require.NoError(t, err)
		require.NotEqual(t, base.Data, got.Data, "chunk %d has no effect", k)
	}
}

func TestDiTBlockInitUsesDepthStd(t *testing.T) {
	cfg := smallConfig()
	cfg.NEmbd, cfg.HeadSize, cfg.MLPHiddenMult = 64, 16, 4
	cfg.NumBlocks, cfg.BlockIndex = 12, 0
	b, err := NewDiTBlock(cfg, nil)
	require.NoError(t, err)
	require.InDelta(t, WeightInitStd(true, 0, 12), b.WeightInitStd(), 1e-15)

	tensor.Fill(b.Ln1.(*nn.LayerNorm).Weight, 3)
	b.Init(rand.New(rand.NewSource(5)))

	for _, v := range b.Ln1.(*nn.LayerNorm).Weight {
		require.Equal(t, float32(1), v)
	}
	ffn := b.MLP.(*FeedForwardNetwork)
	require.InDelta(t, b.WeightInitStd(), Summarize("fc3", ffn.FC3.W.Tensor()).Std, b.WeightInitStd()*0.05)
	require.InDelta(t, b.WeightInitStd(), Summarize("proj", b.Attn.Proj.W.Tensor()).Std, b.WeightInitStd()*0.1)
	for _, v := range b.AdaLN.W.Data {
		require.Zero(t, v)
	}

	cfg.DepthInit = false
	cfg.BlockIndex = 7
	b, err = NewDiTBlock(cfg, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.02/6.0, b.WeightInitStd(), 1e-15)
}

func TestDiTBlockSelectsFeedForwardVariant(t *testing.T) {
	cfg := smallConfig()
	b := newTestBlock(t, cfg)
	_, dense := b.MLP.(*FeedForwardNetwork)
	require.True(t, dense)
	require.Equal(t, 80, b.MLP.HiddenDim())

	cfg.UseMoE = true
	b = newTestBlock(t, cfg)
	moe, ok := b.MLP.(*FeedForwardECMoe)
	require.True(t, ok)
	require.Equal(t, 4, moe.NumExperts)

	p := nn.NewParams()
	b.Params("", p)
	_, ok = p.Get("mlp.w1")
	require.True(t, ok)
	_, ok = p.Get("adaln_modulation.weight")
	require.True(t, ok)
	_, ok = p.Get("cx_attn.kv.weight")
	require.True(t, ok)
}

func TestDiTBlockConcurrentForward(t *testing.T) {
	cfg := smallConfig()
	cfg.UseMoE = true
	b := newTestBlock(t, cfg)
	x := randTensor(1, 2, 8, cfg.NEmbd)
	c := randTensor(2, 2, 4, cfg.NEmbd)
	cond := randTensor(3, 2, cfg.PooledCaptionNEmbd)

	want, err := b.Forward(x, c, cond)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*tensor.Tensor, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.Forward(x, c, cond)
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, want.Data, results[i].Data)
	}
}

func TestStackAssignsBlockIndices(t *testing.T) {
	cfg := smallConfig()
	s, err := NewStack(cfg, nil)
	require.NoError(t, err)
	require.Len(t, s.Blocks, 3)
	for i, b := range s.Blocks {
		require.Equal(t, i, b.Config.BlockIndex)
		require.InDelta(t, WeightInitStd(true, i, 3), b.WeightInitStd(), 1e-15)
	}

	rng := rand.New(rand.NewSource(8))
	s.Init(rng)
	s.InitModulation(rng, 0.02)
	x := randTensor(1, 1, 4, cfg.NEmbd)
	y, err := s.Forward(x, randTensor(2, 1, 2, cfg.NEmbd), randTensor(3, 1, cfg.PooledCaptionNEmbd))
	require.NoError(t, err)
	require.Equal(t, x.Shape, y.Shape)

	p := nn.NewParams()
	s.Params("blocks", p)
	_, ok := p.Get("blocks.2.ln3.weight")
	require.True(t, ok)
}
