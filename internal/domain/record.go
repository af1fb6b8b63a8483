package domain

// Record is one raw payment transaction as received from upstream: an
// unordered bag of loosely typed fields. No schema is enforced here; the
// engine's signal extraction coerces whatever shows up.
type Record map[string]any

// Well-known record field names. These follow the upstream payment
// pipeline's column names so existing datasets score unchanged.
const (
	FieldTransactionID  = "transaction_id"
	FieldAmount         = "amount_mxn"
	FieldProductType    = "product_type"
	FieldCustomerTxn30d = "customer_txn_30d"
	FieldHour           = "hour"
	FieldUserReputation = "user_reputation"
	FieldIPRisk         = "ip_risk"
	FieldEmailRisk      = "email_risk"
	FieldDeviceRisk     = "device_fingerprint_risk"
	FieldChargebacks    = "chargeback_count"
	FieldLatencyMs      = "latency_ms"
	FieldBinCountry     = "bin_country"
	FieldIPCountry      = "ip_country"
)

// Get returns the value for a field, reporting whether it was present.
func (r Record) Get(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
