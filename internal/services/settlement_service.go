package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/sentinelpay/backend/internal/models"
)

const settlementQueueKey = "settlement_queue"

// SettlementService converts approved transactions into ISO 20022 messages
// and queues them for the downstream settlement system. Only transactions
// whose disposition is approved ever reach this service.
type SettlementService struct {
	redis     *redis.Client
	senderBIC string
	validator *ValidationHelper
}

func NewSettlementService(redisClient *redis.Client, senderBIC string) *SettlementService {
	if senderBIC == "" {
		senderBIC = "SENTINEL"
	}
	return &SettlementService{
		redis:     redisClient,
		senderBIC: senderBIC,
		validator: NewValidationHelper(),
	}
}

// Queue pushes an approved transaction onto the settlement queue. Called
// after the transaction is finalized; a queue failure is logged by callers
// but does not unwind the approval.
func (s *SettlementService) Queue(ctx context.Context, tx *models.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return s.redis.RPush(ctx, settlementQueueKey, data).Err()
}

// ConvertToISO20022 converts a transaction to ISO20022 format
// @Summary Convert to ISO20022
// @Description Convert an approved transaction to ISO20022 XML format
// @Tags settlement
// @Accept json
// @Produce json
// @Param transaction body models.Transaction true "Transaction to convert"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} map[string]string
// @Router /settlement/convert [post]
func (s *SettlementService) ConvertToISO20022(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req models.Transaction
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pacs008, err := s.CreatePacs008(&req)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := s.ConvertToXML(pacs008)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "converted",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

// ProcessSettlement emits a pacs.002 status report for a transaction
// @Summary Process settlement
// @Description Emit an ISO20022 payment status report for a finalized transaction
// @Tags settlement
// @Accept json
// @Produce json
// @Param transaction body models.Transaction true "Transaction to settle"
// @Success 200 {object} object{status=string,messageType=string}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} map[string]string
// @Router /settlement/status [post]
func (s *SettlementService) ProcessSettlement(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req models.Transaction
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pacs002, err := s.CreatePacs002(&req, "ACCP")
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	if err := s.SendToSettlement(pacs002); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "settled",
		"messageType": "pacs.002.001.08",
	})
}

// SendToSettlement marshals the document and hands it to the settlement
// system.
func (s *SettlementService) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: wire the clearing-house endpoint once credentials are issued
	log.Printf("[SETTLEMENT] Sending %d bytes to settlement", len(xmlData))
	return nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// an approved transaction.
func (s *SettlementService) CreatePacs008(tx *models.Transaction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(tx.Currency),
				Value: tx.Amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
					EndToEndId: common.Max35Text(tx.TransactionID),
					TxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(tx.Currency),
					Value: tx.Amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.senderBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.Account)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(tx.RecipientAccount),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.RecipientAccount)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report.
func (s *SettlementService) CreatePacs002(tx *models.Transaction, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC, etc.
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts an ISO20022 document to an XML string.
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
