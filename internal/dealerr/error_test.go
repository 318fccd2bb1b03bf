package dealerr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwrapsWrappedError(t *testing.T) {
	base := New(InvalidTransition, "deal is not in WAITING")
	wrapped := errors.New("rpc handler: " + base.Error())
	assert.Equal(t, Fatal, CodeOf(wrapped), "a plain error string does not unwrap to a *Error")
	assert.Equal(t, InvalidTransition, CodeOf(base))
	assert.Equal(t, InvalidTransition, CodeOf(fmt.Errorf("rpc handler: %w", base)))
}

func TestRetryable(t *testing.T) {
	assert.True(t, AdapterTransient.Retryable())
	assert.True(t, OracleUnavailable.Retryable())
	assert.False(t, InvalidInput.Retryable())
	assert.False(t, Fatal.Retryable())
}

func TestFromChainErrorReorg(t *testing.T) {
	chainErr := chainadapter.NewNonRetryableError(chainadapter.ErrCodeReorgDetected, "deposit txid vanished", nil)
	de := FromChainError(chainErr)
	assert.Equal(t, ReorgDetected, de.Code)
}

func TestFromChainErrorRetryableMapsToAdapterTransient(t *testing.T) {
	d := 2 * time.Second
	chainErr := chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, "timed out", &d, nil)
	de := FromChainError(chainErr)
	assert.Equal(t, AdapterTransient, de.Code)
}

func TestFromChainErrorNonRetryableMapsToAdapterPermanent(t *testing.T) {
	chainErr := chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "bad address", nil)
	de := FromChainError(chainErr)
	assert.Equal(t, AdapterPermanent, de.Code)
}

func TestFromChainErrorUnclassified(t *testing.T) {
	de := FromChainError(errors.New("boom"))
	assert.Equal(t, AdapterPermanent, de.Code)
}
