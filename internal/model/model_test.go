package model

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

var validateTestAddr = common.HexToAddress("0xAAA0000000000000000000000000000000000A")

func TestValidateAcceptsZeroTopN(t *testing.T) {
	// top_n = 0 is a legitimate "track no whales, emit no alerts"
	// configuration, not an error (spec.md's top_n=0 testable property).
	spec := TokenSpec{Address: validateTestAddr, Chain: "ethereum", TopN: 0, ThresholdUSD: 1000}
	assert.NoError(t, spec.Validate(100))
}

func TestValidateRejectsMissingChain(t *testing.T) {
	spec := TokenSpec{Address: validateTestAddr, TopN: 10, ThresholdUSD: 1000}
	assert.Error(t, spec.Validate(100))
}

func TestValidateRejectsNegativeTopN(t *testing.T) {
	spec := TokenSpec{Address: validateTestAddr, Chain: "ethereum", TopN: -1, ThresholdUSD: 1000}
	assert.Error(t, spec.Validate(100))
}

func TestValidateRejectsTopNExceedingProviderPageMax(t *testing.T) {
	spec := TokenSpec{Address: validateTestAddr, Chain: "ethereum", TopN: 101, ThresholdUSD: 1000}
	assert.Error(t, spec.Validate(100))
}

func TestValidateAllowsTopNExceedingPageMaxWhenUnbounded(t *testing.T) {
	// providerPageMax == 0 means "no cap enforced".
	spec := TokenSpec{Address: validateTestAddr, Chain: "ethereum", TopN: 1000, ThresholdUSD: 1000}
	assert.NoError(t, spec.Validate(0))
}

func TestValidateRejectsNegativeThreshold(t *testing.T) {
	spec := TokenSpec{Address: validateTestAddr, Chain: "ethereum", TopN: 10, ThresholdUSD: -1}
	assert.Error(t, spec.Validate(100))
}

func TestValidateAcceptsZeroThreshold(t *testing.T) {
	spec := TokenSpec{Address: validateTestAddr, Chain: "ethereum", TopN: 10, ThresholdUSD: 0}
	assert.NoError(t, spec.Validate(100))
}
