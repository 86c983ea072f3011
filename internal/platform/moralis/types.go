package moralis

// transferResult is the wire envelope of the ERC-20 transfers endpoint.
type transferResult struct {
	Result []transferRecord `json:"result"`
}

// transferRecord is a single row from GET /{address}/erc20/transfers.
type transferRecord struct {
	TransactionHash string `json:"transaction_hash"`
	LogIndex        int    `json:"log_index"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Value           string `json:"value"`
	TokenAddress    string `json:"address"`
	TokenSymbol     string `json:"token_symbol"`
	TokenDecimals   string `json:"token_decimals"`
	BlockTimestamp  string `json:"block_timestamp"`
	BlockNumber     string `json:"block_number"`
	// MethodLabel is populated for decoded contract interactions.
	MethodLabel string `json:"method_label"`
}

// balanceRecord is a single row from GET /{address}/erc20.
type balanceRecord struct {
	TokenAddress string `json:"token_address"`
	Symbol       string `json:"symbol"`
	Decimals     int    `json:"decimals"`
	Balance      string `json:"balance"`
}

// nativeBalance is the response of GET /{address}/balance.
type nativeBalance struct {
	Balance string `json:"balance"`
}

// priceResponse is the response of GET /erc20/{token}/price.
type priceResponse struct {
	USDPrice float64 `json:"usdPrice"`
}

// gasPriceResponse is the response of GET /web3/gas-price. Prices arrive in
// wei as decimal strings.
type gasPriceResponse struct {
	SafeLow  gasTier `json:"safeLow"`
	Standard gasTier `json:"standard"`
	Fast     gasTier `json:"fast"`
}

type gasTier struct {
	Wei string `json:"wei"`
}
