package kraken

// tickerEntry is one pair's entry in Kraken's Ticker response. Kraken
// returns [price, wholeLotVolume, lotVolume] triples for bid/ask/close;
// only the first element is used.
type tickerEntry struct {
	Bid   []string `json:"b"`
	Ask   []string `json:"a"`
	Close []string `json:"c"`
}

type tickerResponse struct {
	Error  []string               `json:"error"`
	Result map[string]tickerEntry `json:"result"`
}

type ohlcResponse struct {
	Error  []string                   `json:"error"`
	Result map[string][][]interface{} `json:"result"`
}

type balanceResponse struct {
	Error  []string          `json:"error"`
	Result map[string]string `json:"result"`
}

type addOrderResult struct {
	TxID []string `json:"txid"`
}

type addOrderResponse struct {
	Error  []string       `json:"error"`
	Result addOrderResult `json:"result"`
}

type orderInfo struct {
	Status  string `json:"status"`
	VolExec string `json:"vol_exec"`
	Cost    string `json:"cost"`
	Fee     string `json:"fee"`
}

type queryOrdersResponse struct {
	Error  []string             `json:"error"`
	Result map[string]orderInfo `json:"result"`
}
