package dealerr

import "github.com/otcswap/broker/internal/chainadapter"

// FromChainError maps a chainadapter.ChainError onto the broker's own
// taxonomy. ReorgDetected is distinguished from ordinary adapter failures
// because the engine and watcher react to it differently (rolling back a
// recorded deposit rather than merely retrying the call that produced it).
func FromChainError(err error) *Error {
	chainErr, ok := err.(*chainadapter.ChainError)
	if !ok {
		return Wrap(AdapterPermanent, "unclassified chain adapter error", err)
	}

	switch chainErr.Code {
	case chainadapter.ErrCodeReorgDetected:
		return Wrap(ReorgDetected, chainErr.Message, chainErr)
	case chainadapter.ErrCodeOracleUnavailable:
		return Wrap(OracleUnavailable, chainErr.Message, chainErr)
	}

	if chainErr.Classification == chainadapter.Retryable {
		return Wrap(AdapterTransient, chainErr.Message, chainErr)
	}
	return Wrap(AdapterPermanent, chainErr.Message, chainErr)
}
