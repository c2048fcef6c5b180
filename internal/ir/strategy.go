package ir

// Strategy is the static configuration of one k-loop: tile shape, load
// granularity, staging-buffer usage and feature flags. Tile sizes and loop
// order are chosen by the caller; the generator only schedules.
type Strategy struct {
	Name string `json:"name"`

	// Per-thread C tile and workgroup thread grid.
	TileM int `json:"tile_m"`
	TileN int `json:"tile_n"`
	WGM   int `json:"wg_m"`
	WGN   int `json:"wg_n"`
	WGK   int `json:"wg_k"`

	// UnrollK is the externally fixed unroll factor. Zero lets the analyzer
	// derive the block length.
	UnrollK int `json:"unroll_k"`

	// Global load widths in k and register copies per operand.
	KaLoad  int `json:"ka_load"`
	KbLoad  int `json:"kb_load"`
	ACopies int `json:"a_copies"`
	BCopies int `json:"b_copies"`

	AType ElementType `json:"a_type"`
	BType ElementType `json:"b_type"`

	// Staging buffer (SLM) usage.
	SLMA          bool `json:"slm_a"`
	SLMB          bool `json:"slm_b"`
	SLMBuffers    int  `json:"slm_buffers"`
	UnrollKSLM    int  `json:"unroll_k_slm"`
	NamedBarriers bool `json:"named_barriers"`

	// Prefetch distance (in k) and stride per operand. Zero distance disables.
	PrefetchA  int `json:"prefetch_a"`
	PrefetchB  int `json:"prefetch_b"`
	KaPrefetch int `json:"ka_prefetch"`
	KbPrefetch int `json:"kb_prefetch"`

	// PeriodicBarrier emits a workgroup barrier every N k iterations of the
	// main loop. Zero disables.
	PeriodicBarrier int  `json:"periodic_barrier"`
	SplitBarrier    bool `json:"split_barrier"`

	DelayABInc       bool `json:"delay_ab_inc"`
	LoadBFirst       bool `json:"load_b_first"`
	StallAfterLoad   bool `json:"stall_after_load"`
	KInterleaveChunk int  `json:"k_interleave_chunk"`
	Sums             bool `json:"sums"`
	Remask           bool `json:"remask"`

	// BSums accumulates the sums of B over k, as Sums does for A.
	BSums bool `json:"b_sums"`

	// AScaleK and BScaleK are the k extents sharing one row of
	// dequantization scales for an f16 operand. Zero disables scaling.
	// QuantOffsets adds a row of zero points subtracted before scaling.
	AScaleK      int  `json:"a_scale_k"`
	BScaleK      int  `json:"b_scale_k"`
	QuantOffsets bool `json:"quant_offsets"`

	// MaxWarmup bounds the warmup window. Zero means unbounded.
	MaxWarmup int `json:"max_warmup"`
}

// Problem carries the runtime side of a k-loop invocation used by the
// interpreter: the trip count and the seed for operand data.
type Problem struct {
	K    int   `json:"k"`
	Seed int64 `json:"seed"`
}

// WithDefaults returns a copy of s with zero-valued knobs replaced by their
// defaults. The receiver is left unchanged.
func (s Strategy) WithDefaults() Strategy {
	def := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	def(&s.TileM, 1)
	def(&s.TileN, 1)
	def(&s.WGM, 1)
	def(&s.WGN, 1)
	def(&s.WGK, 1)
	def(&s.KaLoad, 1)
	def(&s.KbLoad, 1)
	def(&s.ACopies, 1)
	def(&s.BCopies, 1)
	if s.AType == "" {
		s.AType = ElemF32
	}
	if s.BType == "" {
		s.BType = ElemF32
	}
	if s.UsesSLM() {
		def(&s.UnrollKSLM, max(s.KaLoad, s.KbLoad))
	}
	if s.PrefetchA > 0 {
		def(&s.KaPrefetch, s.KaLoad)
	}
	if s.PrefetchB > 0 {
		def(&s.KbPrefetch, s.KbLoad)
	}
	return s
}

// UsesSLM reports whether either operand is staged through SLM.
func (s Strategy) UsesSLM() bool {
	return s.SLMBuffers > 0 && (s.SLMA || s.SLMB)
}

// Scaled reports whether either operand carries dequantization scales.
func (s Strategy) Scaled() bool {
	return s.AScaleK > 0 || s.BScaleK > 0
}

// Threads returns the number of threads in a workgroup.
func (s Strategy) Threads() int {
	return max(s.WGM, 1) * max(s.WGN, 1) * max(s.WGK, 1)
}

// Object converts the strategy to an IRObject for canonical hashing.
// Name is excluded: two strategies with identical knobs generate the same
// kernel.
func (s Strategy) Object() IRObject {
	return NewIRObjectFromPairs(
		O("tile_m", IRInt(s.TileM)),
		O("tile_n", IRInt(s.TileN)),
		O("wg_m", IRInt(s.WGM)),
		O("wg_n", IRInt(s.WGN)),
		O("wg_k", IRInt(s.WGK)),
		O("unroll_k", IRInt(s.UnrollK)),
		O("ka_load", IRInt(s.KaLoad)),
		O("kb_load", IRInt(s.KbLoad)),
		O("a_copies", IRInt(s.ACopies)),
		O("b_copies", IRInt(s.BCopies)),
		O("a_type", IRString(s.AType)),
		O("b_type", IRString(s.BType)),
		O("slm_a", IRBool(s.SLMA)),
		O("slm_b", IRBool(s.SLMB)),
		O("slm_buffers", IRInt(s.SLMBuffers)),
		O("unroll_k_slm", IRInt(s.UnrollKSLM)),
		O("named_barriers", IRBool(s.NamedBarriers)),
		O("prefetch_a", IRInt(s.PrefetchA)),
		O("prefetch_b", IRInt(s.PrefetchB)),
		O("ka_prefetch", IRInt(s.KaPrefetch)),
		O("kb_prefetch", IRInt(s.KbPrefetch)),
		O("periodic_barrier", IRInt(s.PeriodicBarrier)),
		O("split_barrier", IRBool(s.SplitBarrier)),
		O("delay_ab_inc", IRBool(s.DelayABInc)),
		O("load_b_first", IRBool(s.LoadBFirst)),
		O("stall_after_load", IRBool(s.StallAfterLoad)),
		O("k_interleave_chunk", IRInt(s.KInterleaveChunk)),
		O("sums", IRBool(s.Sums)),
		O("remask", IRBool(s.Remask)),
		O("b_sums", IRBool(s.BSums)),
		O("a_scale_k", IRInt(s.AScaleK)),
		O("b_scale_k", IRInt(s.BScaleK)),
		O("quant_offsets", IRBool(s.QuantOffsets)),
		O("max_warmup", IRInt(s.MaxWarmup)),
	)
}

// CanonicalJSON renders the strategy's knobs as canonical JSON. The keys
// are the json tags, so the output decodes back into a Strategy.
func (s Strategy) CanonicalJSON() ([]byte, error) {
	return MarshalCanonical(s.Object())
}
