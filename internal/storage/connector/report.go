package connector

import (
	"go.uber.org/zap"
)

// Report logs the connection events carried by an Acquire status. Reused
// sessions are logged at debug level only.
func Report(logger *zap.Logger, st Status, err error) {
	if st.ProbeErr != nil {
		logger.Warn("Store liveness probe failed, reconnecting", zap.Error(st.ProbeErr))
	}
	if !st.Shared {
		for _, attemptErr := range st.AttemptErrs {
			logger.Warn("Store connect attempt failed", zap.Error(attemptErr))
		}
	}

	switch {
	case err != nil:
		logger.Error("Store unavailable after retries", zap.Int("attempts", st.Attempts), zap.Error(err))
	case st.Connected:
		logger.Info("Store connection established", zap.Int("attempts", st.Attempts))
	case st.Shared:
		logger.Debug("Joined in-flight store connect")
	case st.Reused:
		logger.Debug("Reusing store connection")
	}
}
