package ioen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateConditionFreshness(t *testing.T) {
	msg := []byte{1}
	cond := ValidityConditionConfig{Offset: 0}
	assert.True(t, EvaluateCondition(VCFreshness, cond, msg))
	msg[0] = 0
	assert.False(t, EvaluateCondition(VCFreshness, cond, msg))
}

func TestEvaluateConditionA664FS(t *testing.T) {
	cond := ValidityConditionConfig{Offset: 0}
	assert.True(t, EvaluateCondition(VCA664FS, cond, []byte{byte(A664FSNo)}))
	assert.False(t, EvaluateCondition(VCA664FS, cond, []byte{byte(A664FSNCD)}))
}

func TestEvaluateConditionRangeUint(t *testing.T) {
	msg := make([]byte, 4)
	HTON32(msg, 42)
	cond := ValidityConditionConfig{Offset: 0, OffBits: 0, SizeBits: 32, MinValue: 10, MaxValue: 100}
	assert.True(t, EvaluateCondition(VCRangeUint, cond, msg))

	HTON32(msg, 200)
	assert.False(t, EvaluateCondition(VCRangeUint, cond, msg))
}

func TestEvaluateConditionRangeFloat(t *testing.T) {
	msg := make([]byte, 4)
	HTON32(msg, math.Float32bits(12.5))
	cond := ValidityConditionConfig{
		Offset:   0,
		MinValue: math.Float32bits(0),
		MaxValue: math.Float32bits(20),
	}
	assert.True(t, EvaluateCondition(VCRangeFloat, cond, msg))
}

func TestValidityConfigEvaluateShortCircuitsOnFirstFailure(t *testing.T) {
	msg := []byte{0, 0, 0, 0}
	vc := ValidityConfig{
		NumConditions: 2,
		Kinds:         [4]ValidityConditionKind{VCFreshness, VCA664FS},
		Conditions: [4]ValidityConditionConfig{
			{Offset: 0},
			{Offset: 1},
		},
	}
	assert.False(t, vc.Evaluate(msg))
}

func TestValidityConfigEvaluateZeroConditionsAlwaysPasses(t *testing.T) {
	vc := ValidityConfig{}
	assert.True(t, vc.Evaluate(nil))
}

func TestValidityConfigEvaluateAllConditionsPass(t *testing.T) {
	msg := []byte{1, byte(A664FSNo)}
	vc := ValidityConfig{
		NumConditions: 2,
		Kinds:         [4]ValidityConditionKind{VCFreshness, VCA664FS},
		Conditions: [4]ValidityConditionConfig{
			{Offset: 0},
			{Offset: 1},
		},
	}
	assert.True(t, vc.Evaluate(msg))
}
