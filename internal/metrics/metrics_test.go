package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("POST", "/v1/payments", "201", 0.1)
	RecordHTTPRequest("POST", "/v1/payments", "201", 0.2)
	RecordHTTPRequest("POST", "/v1/payments", "400", 0.05)

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/v1/payments", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/v1/payments", "400")))
}

func TestRecordTransition(t *testing.T) {
	TransitionsTotal.Reset()

	RecordTransition("payment", "payment.confirmed")
	RecordTransition("ecard", "ecard.issued")
	RecordTransition("ecard", "ecard.issued")

	assert.Equal(t, float64(1), testutil.ToFloat64(TransitionsTotal.WithLabelValues("payment", "payment.confirmed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(TransitionsTotal.WithLabelValues("ecard", "ecard.issued")))
}

func TestRecordVerification(t *testing.T) {
	VerificationsTotal.Reset()

	RecordVerification("denied", "suspended")

	assert.Equal(t, float64(1), testutil.ToFloat64(VerificationsTotal.WithLabelValues("denied", "suspended")))
}

func TestRecordReconciled_SkipsZero(t *testing.T) {
	ReconciledTotal.Reset()

	RecordReconciled("issued", 0)
	RecordReconciled("revoked", 3)

	assert.Equal(t, 1, testutil.CollectAndCount(ReconciledTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(ReconciledTotal.WithLabelValues("revoked")))
}

func TestRecordSinkFailure(t *testing.T) {
	SinkFailuresTotal.Reset()

	RecordSinkFailure("rabbitmq")

	assert.Equal(t, float64(1), testutil.ToFloat64(SinkFailuresTotal.WithLabelValues("rabbitmq")))
}
