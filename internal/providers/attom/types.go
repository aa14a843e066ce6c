package attom

import "github.com/arvscout/arvscout/internal/provider"

// statusCodeNoResult is ATTOM's "SuccessWithoutResult".
const statusCodeNoResult = 1

type status struct {
	Version string `json:"version"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Total   int    `json:"total"`
}

// comparablesResponse is the body of the sales comparables endpoint.
type comparablesResponse struct {
	Status   status      `json:"status"`
	Property []attomSale `json:"property"`
}

type attomSale struct {
	Identifier struct {
		AttomID provider.Number `json:"attomId"`
	} `json:"identifier"`
	Address struct {
		OneLine string `json:"oneLine"`
		Line1   string `json:"line1"`
		Line2   string `json:"line2"`
	} `json:"address"`
	Location struct {
		Distance provider.Number `json:"distance"`
	} `json:"location"`
	Sale struct {
		SaleRecDate string `json:"salerecdate"`
		Amount      struct {
			SaleAmt     provider.Number `json:"saleamt"`
			SaleRecDate string          `json:"salerecdate"`
		} `json:"amount"`
	} `json:"sale"`
	Building struct {
		Size struct {
			LivingSize provider.Number `json:"livingsize"`
		} `json:"size"`
		Rooms struct {
			Beds       provider.Number `json:"beds"`
			BathsTotal provider.Number `json:"bathstotal"`
		} `json:"rooms"`
		Construction struct {
			Condition string `json:"condition"`
		} `json:"construction"`
	} `json:"building"`
}

func (s attomSale) oneLine() string {
	if s.Address.OneLine != "" {
		return s.Address.OneLine
	}
	if s.Address.Line1 == "" {
		return ""
	}
	if s.Address.Line2 == "" {
		return s.Address.Line1
	}
	return s.Address.Line1 + ", " + s.Address.Line2
}

func (s attomSale) recordedDate() string {
	if s.Sale.Amount.SaleRecDate != "" {
		return s.Sale.Amount.SaleRecDate
	}
	return s.Sale.SaleRecDate
}

// historyResponse is the body of /saleshistory/detail.
type historyResponse struct {
	Status   status `json:"status"`
	Property []struct {
		SaleHistory []struct {
			SaleSearchDate string `json:"saleSearchDate"`
			SaleTransDate  string `json:"saleTransDate"`
			Amount         struct {
				SaleAmt       provider.Number `json:"saleamt"`
				SaleRecDate   string          `json:"salerecdate"`
				SaleTransType string          `json:"saletranstype"`
			} `json:"amount"`
		} `json:"salehistory"`
	} `json:"property"`
}
