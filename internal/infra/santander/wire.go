package santander

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Wire shapes of the collection API. They never leave this package; the
// translator turns them into domain types.

// flexString accepts a JSON string, number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return strings.TrimSpace(string(f)) }

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   flexString `json:"expires_in"`
}

type errorEnvelope struct {
	ErrorCode flexString `json:"_errorCode"`
	Message   string     `json:"_message"`
	Details   string     `json:"_details"`
	Timestamp string     `json:"_timestamp"`
	TraceID   string     `json:"_traceId"`
	Errors    []struct {
		Code    flexString `json:"_code"`
		Field   string     `json:"_field"`
		Message string     `json:"_message"`
	} `json:"_errors"`
}

func (e *errorEnvelope) empty() bool {
	return e.ErrorCode == "" && e.Message == "" && e.Details == "" && len(e.Errors) == 0
}

type wirePayer struct {
	Name           string `json:"name"`
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	Address        string `json:"address"`
	Neighborhood   string `json:"neighborhood"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zipCode"`
}

type wireKey struct {
	Type    string `json:"type"`
	DictKey string `json:"dictKey"`
}

type registrationRequest struct {
	Environment          string    `json:"environment"`
	NsuCode              string    `json:"nsuCode"`
	NsuDate              string    `json:"nsuDate"`
	CovenantCode         string    `json:"covenantCode"`
	BankNumber           string    `json:"bankNumber"`
	ClientNumber         string    `json:"clientNumber,omitempty"`
	DueDate              string    `json:"dueDate"`
	IssueDate            string    `json:"issueDate"`
	NominalValue         string    `json:"nominalValue"`
	Payer                wirePayer `json:"payer"`
	DocumentKind         string    `json:"documentKind"`
	PaymentType          string    `json:"paymentType"`
	FinePercentage       string    `json:"finePercentage,omitempty"`
	FineQuantityDays     string    `json:"fineQuantityDays,omitempty"`
	InterestPercentage   string    `json:"interestPercentage,omitempty"`
	DeductionValue       string    `json:"deductionValue,omitempty"`
	WriteOffQuantityDays string    `json:"writeOffQuantityDays,omitempty"`
	Messages             []string  `json:"messages,omitempty"`
	Key                  *wireKey  `json:"key,omitempty"`
}

type bankSlipResponse struct {
	NsuCode       string     `json:"nsuCode"`
	NsuDate       string     `json:"nsuDate"`
	Environment   string     `json:"environment"`
	CovenantCode  flexString `json:"covenantCode"`
	IssueDate     string     `json:"issueDate"`
	DueDate       string     `json:"dueDate"`
	BankNumber    flexString `json:"bankNumber"`
	ClientNumber  flexString `json:"clientNumber"`
	NominalValue  flexString `json:"nominalValue"`
	Payer         *wirePayer `json:"payer"`
	DocumentKind  string     `json:"documentKind"`
	BarCode       string     `json:"barCode"`
	DigitableLine string     `json:"digitableLine"`
	EntryDate     string     `json:"entryDate"`
	QrCodePix     string     `json:"qrCodePix"`
	QrCodeURL     string     `json:"qrCodeUrl"`
	Status        string     `json:"status"`
}

type wireSettlement struct {
	SettlementType   string     `json:"settlementType"`
	SettlementDate   string     `json:"settlementDate"`
	SettlementValue  flexString `json:"settlementValue"`
	SettlementOrigin string     `json:"settlementOrigin"`
	BankCode         flexString `json:"bankCode"`
	BankBranch       flexString `json:"bankBranch"`
}

type wireRegistryInfo struct {
	RegistryDate   string     `json:"registryDate"`
	RegistryNumber flexString `json:"registryNumber"`
	NotaryOffice   string     `json:"notaryOffice"`
	RegistryCost   flexString `json:"registryCost"`
}

type billData struct {
	BeneficiaryCode   flexString        `json:"beneficiaryCode"`
	BankNumber        flexString        `json:"bankNumber"`
	ClientNumber      flexString        `json:"clientNumber"`
	NsuCode           string            `json:"nsuCode"`
	NsuDate           string            `json:"nsuDate"`
	Status            string            `json:"status"`
	StatusComplement  string            `json:"statusComplement"`
	DueDate           string            `json:"dueDate"`
	IssueDate         string            `json:"issueDate"`
	EntryDate         string            `json:"entryDate"`
	SettlementDate    string            `json:"settlementDate"`
	NominalValue      flexString        `json:"nominalValue"`
	PaidValue         flexString        `json:"paidValue"`
	DiscountValue     flexString        `json:"discountValue"`
	FineValue         flexString        `json:"fineValue"`
	InterestValue     flexString        `json:"interestValue"`
	DeductionValue    flexString        `json:"deductionValue"`
	Payer             *wirePayer        `json:"payer"`
	Key               *wireKey          `json:"key"`
	QrCodePix         string            `json:"qrCodePix"`
	QrCodeURL         string            `json:"qrCodeUrl"`
	BarCode           string            `json:"barCode"`
	DigitableLine     string            `json:"digitableLine"`
	DocumentKind      string            `json:"documentKind"`
	Messages          []string          `json:"messages"`
	Settlements       []wireSettlement  `json:"settlements"`
	RegistryInfo      *wireRegistryInfo `json:"registryInfo"`
	StatusDescription string            `json:"statusDescription"`
}

type billsEnvelope struct {
	Pageable *struct {
		MoreElements bool       `json:"_moreElements"`
		PageNumber   flexString `json:"_pageNumber"`
		PageSize     flexString `json:"_pageSize"`
	} `json:"_pageable"`
	Content []billData `json:"_content"`
}

type printableRequest struct {
	PayerDocumentNumber string `json:"payerDocumentNumber"`
}

type printableResponse struct {
	Link string `json:"link"`
}
