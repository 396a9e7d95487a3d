package payment

import (
	"fmt"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/gateway"
	"expedite-backend/internal/utils"
)

func legLabel(leg, legs int) string {
	if legs < 2 {
		return "Payment"
	}
	if leg == 1 {
		return "First payment"
	}
	return "Second payment"
}

func successNote(host, gatewayName string, leg, legs int, op gateway.Operation, amount float64, txID string, at time.Time) domain.CaseNote {
	return domain.CaseNote{
		AutoNote: fmt.Sprintf("<b>%s successful</b> (%s %s) via <b>%s</b>, transaction id <b>%s</b>",
			legLabel(leg, legs), op, utils.FormatMoney(amount), gatewayName, txID),
		Host:      host,
		CreatedAt: at,
	}
}

func failureNote(host, gatewayName string, leg, legs int, op gateway.Operation, amount float64, reason string, at time.Time) domain.CaseNote {
	return domain.CaseNote{
		AutoNote: fmt.Sprintf("<b>%s failed</b> (%s %s) via <b>%s</b>: %s",
			legLabel(leg, legs), op, utils.FormatMoney(amount), gatewayName, reason),
		Host:      host,
		CreatedAt: at,
	}
}

func indeterminateNote(host, gatewayName string, leg, legs int, op gateway.Operation, amount float64, cause error, at time.Time) domain.CaseNote {
	return domain.CaseNote{
		AutoNote: fmt.Sprintf("<b>%s outcome unknown</b> (%s %s) via <b>%s</b>: %v. Check the gateway before charging again",
			legLabel(leg, legs), op, utils.FormatMoney(amount), gatewayName, cause),
		Host:      host,
		CreatedAt: at,
	}
}

// GatewayNote records which gateway processed a successful case charge.
func GatewayNote(host, gatewayName string, at time.Time) domain.CaseNote {
	return domain.CaseNote{
		AutoNote:  fmt.Sprintf("Payment gateway: <b>%s</b>", gatewayName),
		Host:      host,
		CreatedAt: at,
	}
}

func refundNote(host, gatewayName string, amount float64, txID string, ok bool, reason string, at time.Time) domain.CaseNote {
	text := fmt.Sprintf("<b>Refund successful</b> (%s) via <b>%s</b>, transaction id <b>%s</b>", utils.FormatMoney(amount), gatewayName, txID)
	if !ok {
		text = fmt.Sprintf("<b>Refund failed</b> (%s) via <b>%s</b>: %s", utils.FormatMoney(amount), gatewayName, reason)
	}
	return domain.CaseNote{AutoNote: text, Host: host, CreatedAt: at}
}
