package a429

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

type fakePort struct {
	words []uint32
	idx   int
}

func (f *fakePort) Name() string { return "fake429" }

func (f *fakePort) ReadWord() (uint32, bool, error) {
	if f.idx >= len(f.words) {
		return 0, false, nil
	}
	w := f.words[f.idx]
	f.idx++
	return w, true, nil
}

func word(label, sdi byte) uint32 {
	return uint32(label)<<LabelOffset | uint32(sdi)<<SDIOffset
}

func TestReceiverDemuxesByLabelAndSDI(t *testing.T) {
	port := &fakePort{words: []uint32{word(0271, 1), word(0272, 2)}}
	cfgs := map[Label]ioen.A429MessageInfo{
		{Code: 0271, SDI: 1}: {InvalidTime: 200},
		{Code: 0272, SDI: 2}: {InvalidTime: 200},
	}
	r := NewReceiver(port, cfgs, 50, clog.NewLogger("test"))
	require.NoError(t, r.ReadCycle())

	w, fresh := r.Word(Label{Code: 0271, SDI: 1})
	assert.True(t, fresh)
	assert.Equal(t, word(0271, 1), w)

	w, fresh = r.Word(Label{Code: 0272, SDI: 2})
	assert.True(t, fresh)
	assert.Equal(t, word(0272, 2), w)
}

func TestReceiverUnconfiguredLabelIgnored(t *testing.T) {
	port := &fakePort{words: []uint32{word(7, 0)}}
	r := NewReceiver(port, map[Label]ioen.A429MessageInfo{}, 50, clog.NewLogger("test"))
	require.NoError(t, r.ReadCycle())
	_, fresh := r.Word(Label{Code: 7, SDI: 0})
	assert.False(t, fresh)
}

func TestReceiverGoesUnfreshWithoutNewWords(t *testing.T) {
	port := &fakePort{words: []uint32{word(5, 0)}}
	cfgs := map[Label]ioen.A429MessageInfo{{Code: 5, SDI: 0}: {InvalidTime: 50}}
	r := NewReceiver(port, cfgs, 50, clog.NewLogger("test"))
	require.NoError(t, r.ReadCycle())
	_, fresh := r.Word(Label{Code: 5, SDI: 0})
	require.True(t, fresh)

	// No more words queued: tick past the tolerance window (ceil(50/50)=1).
	require.NoError(t, r.ReadCycle())
	require.NoError(t, r.ReadCycle())
	_, fresh = r.Word(Label{Code: 5, SDI: 0})
	assert.False(t, fresh)
}
