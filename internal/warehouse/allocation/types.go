package allocation

import "github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"

// Mode of an allocation request.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Request commits stock to a demand line. An empty LPNIDs selects auto mode,
// where the engine picks whole LPNs for Quantity.
type Request struct {
	Demand      stock.DemandRef `json:"demand" validate:"required"`
	BatchNumber string          `json:"batch_number"`
	Quantity    float64         `json:"quantity" validate:"gte=0"`
	LPNIDs      []string        `json:"lpn_ids" validate:"omitempty,dive,required"`
}

// Mode reports the request mode.
func (r Request) Mode() Mode {
	if len(r.LPNIDs) > 0 {
		return ModeManual
	}
	return ModeAuto
}

// Committed is one LPN committed by an allocation.
type Committed struct {
	RecordID  string  `json:"record_id"`
	LPNNumber string  `json:"lpn_number"`
	Location  string  `json:"location"`
	HUQty     float64 `json:"hu_qty"`
}

// ItemError is a per-LPN failure that did not abort the request.
type ItemError struct {
	RecordID string `json:"record_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Result of an allocation request.
type Result struct {
	Mode         Mode             `json:"mode"`
	Demand       stock.DemandRef  `json:"demand"`
	BatchNumber  string           `json:"batch_number"`
	RequestedQty float64          `json:"requested_qty"`
	CommittedQty float64          `json:"committed_qty"`
	ShortfallQty float64          `json:"shortfall_qty"`
	Committed    []Committed      `json:"committed"`
	Skipped      []string         `json:"skipped,omitempty"`
	Errors       []ItemError      `json:"errors"`
	Warnings     []string         `json:"warnings,omitempty"`
	DemandLine   stock.DemandLine `json:"demand_line"`
}

// StatusChange asks for one LPN to move to a new status. Demand is required
// when moving available stock to allocated.
type StatusChange struct {
	RecordID string           `json:"record_id" validate:"required"`
	To       stock.Status     `json:"status" validate:"required"`
	Demand   *stock.DemandRef `json:"demand,omitempty"`
}

// LocationChange moves one LPN to a new location.
type LocationChange struct {
	RecordID string `json:"record_id" validate:"required"`
	Location string `json:"location" validate:"required"`
}

// ItemResult is the outcome for one record of a bulk call.
type ItemResult struct {
	RecordID string             `json:"record_id"`
	Success  bool               `json:"success"`
	Record   *stock.StockRecord `json:"record,omitempty"`
	Code     string             `json:"code,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// BatchResult summarises a bulk call. Successful+Failed always equals Total.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []ItemResult `json:"results"`
}

func newBatchResult(results []ItemResult) BatchResult {
	out := BatchResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	return out
}

func itemFailure(recordID string, err error) ItemResult {
	code, msg := describe(err)
	return ItemResult{RecordID: recordID, Code: code, Error: msg}
}

func itemError(recordID string, err error) ItemError {
	code, msg := describe(err)
	return ItemError{RecordID: recordID, Code: code, Message: msg}
}

// describe hides storage details of unexpected errors from callers; they are
// logged instead.
func describe(err error) (string, string) {
	code := stock.ErrorCode(err)
	if code == "internal" {
		return code, "internal error"
	}
	return code, err.Error()
}

func itemSuccess(record stock.StockRecord) ItemResult {
	return ItemResult{RecordID: record.ID, Success: true, Record: &record}
}
