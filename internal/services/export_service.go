package services

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/models"
	"github.com/creatorpay/backend/internal/vault"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

// ExportService produces the bank-upload artifacts for queued payouts and
// stamps them as exported. The CSV is the canonical artifact; a pacs.008
// message is produced alongside it for the banking partner.
type ExportService struct {
	db        *sql.DB
	encryptor vault.Encryptor
	audit     *AuditService
	cfg       *config.PayoutConfig
}

// ExportBatch is the result of one export run.
type ExportBatch struct {
	BatchID     string `json:"batch_id"`
	PayoutCount int    `json:"payout_count"`
	TotalCents  int64  `json:"total_cents"`
	CSV         string `json:"csv"`
}

type exportRow struct {
	PayoutID        string
	CreatorID       string
	BeneficiaryName string
	IBAN            string
	BIC             string
	AmountCents     int64
	Currency        string
	BankReference   string
}

func NewExportService(db *sql.DB, encryptor vault.Encryptor, audit *AuditService, cfg *config.PayoutConfig) *ExportService {
	return &ExportService{db: db, encryptor: encryptor, audit: audit, cfg: cfg}
}

// bankReference derives the end-to-end reference from the payout id.
func (s *ExportService) bankReference(payoutID string) string {
	short := strings.ToUpper(strings.ReplaceAll(payoutID, "-", ""))
	if len(short) > 12 {
		short = short[:12]
	}
	return s.cfg.BankReferencePrefix + "-" + short
}

// ExportPayoutsCSV selects all payouts in statusFilter, decrypts the stored
// bank details and emits one CSV row per payout. Within the same transaction
// every exported payout moves out of the filter status, so a second call on
// the same set exports nothing. Any error aborts the whole transaction: a
// partially-exported batch would be unreconcilable against the bank file.
func (s *ExportService) ExportPayoutsCSV(ctx context.Context, actorID string, statusFilter models.PayoutStatus) (*ExportBatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT p.id, p.creator_id, p.amount_cents, p.currency, s.beneficiary_name, s.iban_encrypted, s.bic_encrypted
		FROM payouts p
		JOIN payout_settings s ON s.creator_id = p.creator_id
		WHERE p.status = $1
		ORDER BY p.created_at
		FOR UPDATE OF p`, string(statusFilter))
	if err != nil {
		return nil, err
	}

	var exportRows []exportRow
	var totalCents int64
	for rows.Next() {
		var r exportRow
		var ibanEnc, bicEnc string
		if err := rows.Scan(&r.PayoutID, &r.CreatorID, &r.AmountCents, &r.Currency, &r.BeneficiaryName, &ibanEnc, &bicEnc); err != nil {
			rows.Close()
			return nil, err
		}
		if r.IBAN, err = s.encryptor.Decrypt(ibanEnc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decrypt IBAN for payout %s: %w", r.PayoutID, err)
		}
		if r.BIC, err = s.encryptor.Decrypt(bicEnc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decrypt BIC for payout %s: %w", r.PayoutID, err)
		}
		r.BankReference = s.bankReference(r.PayoutID)
		exportRows = append(exportRows, r)
		totalCents += r.AmountCents
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	now := time.Now()

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.Write([]string{"payout_id", "beneficiary_name", "iban", "bic", "amount_eur", "currency", "reference", "creator_id"})
	for _, r := range exportRows {
		w.Write([]string{
			r.PayoutID,
			r.BeneficiaryName,
			r.IBAN,
			r.BIC,
			fmt.Sprintf("%d.%02d", r.AmountCents/100, r.AmountCents%100),
			r.Currency,
			r.BankReference,
			r.CreatorID,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}

	for _, r := range exportRows {
		_, err = tx.ExecContext(ctx, `
			UPDATE payouts
			SET status = $1, export_batch_id = $2, exported_at = $3, bank_reference = $4, updated_at = $3
			WHERE id = $5`,
			string(models.PayoutStatusExported), batchID, now, r.BankReference, r.PayoutID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark payout %s exported: %w", r.PayoutID, err)
		}
	}

	err = s.audit.Record(ctx, tx, actorID, "payout.batch_exported", "export_batch", batchID, models.Metadata{
		"payout_count": len(exportRows),
		"total_cents":  totalCents,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[EXPORT] Batch %s exported: %d payouts, %d cents (actor %s)", batchID, len(exportRows), totalCents, actorID)
	return &ExportBatch{
		BatchID:     batchID,
		PayoutCount: len(exportRows),
		TotalCents:  totalCents,
		CSV:         sb.String(),
	}, nil
}

// BuildPacs008 renders one exported batch as a pacs.008 FI-to-FI customer
// credit transfer message for the banking partner.
func (s *ExportService) BuildPacs008(ctx context.Context, batchID string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.amount_cents, p.currency, p.bank_reference, s.beneficiary_name, s.iban_encrypted, s.bic_encrypted
		FROM payouts p
		JOIN payout_settings s ON s.creator_id = p.creator_id
		WHERE p.export_batch_id = $1
		ORDER BY p.created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creDtTm := time.Now()
	settlementDate := time.Now()
	var transfers []pacs_v08.CreditTransferTransaction39
	var totalCents int64
	currency := "EUR"

	for rows.Next() {
		var payoutID, bankReference, beneficiaryName, ibanEnc, bicEnc string
		var amountCents int64
		if err := rows.Scan(&payoutID, &amountCents, &currency, &bankReference, &beneficiaryName, &ibanEnc, &bicEnc); err != nil {
			return nil, err
		}
		iban, err := s.encryptor.Decrypt(ibanEnc)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt IBAN for payout %s: %w", payoutID, err)
		}
		bic, err := s.encryptor.Decrypt(bicEnc)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt BIC for payout %s: %w", payoutID, err)
		}

		totalCents += amountCents
		transfers = append(transfers, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &[]common.Max35Text{common.Max35Text(payoutID)}[0],
				EndToEndId: common.Max35Text(bankReference),
				TxId:       &[]common.Max35Text{common.Max35Text(payoutID)}[0],
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: float64(amountCents) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text("CreatorPay Platform")}[0],
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(bic)}[0],
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text(beneficiaryName)}[0],
			},
			CdtrAcct: &pacs_v08.CashAccount38{
				Id: pacs_v08.AccountIdentification4Choice{
					IBAN: &[]common.IBAN2007Identifier{common.IBAN2007Identifier(iban)}[0],
				},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(batchID),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: common.Max15NumericText(fmt.Sprintf("%d", len(transfers))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: float64(totalCents) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: transfers,
	}

	return doc, nil
}
