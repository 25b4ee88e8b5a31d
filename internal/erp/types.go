package erp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind selects which family of ERP endpoints and field vocabularies applies
// to a document. It never changes for a given document.
type Kind string

const (
	KindBudget        Kind = "presupuestos"
	KindPurchaseOrder Kind = "ordenes-compra"
)

func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.TrimSpace(raw)) {
	case KindBudget:
		return KindBudget, true
	case KindPurchaseOrder:
		return KindPurchaseOrder, true
	}
	return "", false
}

// Key is the composite document identity, unique within a kind.
type Key struct {
	LocCod int `json:"locCod"`
	Nro    int `json:"nro"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d-%d", k.LocCod, k.Nro)
}

// Document is the kind-tagged projection the dashboard works with. Payload
// carries the full upstream row untouched for rendering; the orchestration
// layer only interprets the identity, the status label and the approval
// fields.
type Document struct {
	Kind         Kind            `json:"kind"`
	Key          Key             `json:"key"`
	Status       string          `json:"status"`
	Approved     bool            `json:"approved"`
	ApproverUser string          `json:"approverUser,omitempty"`
	ApprovalDate string          `json:"approvalDate,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// Receipt is the settled result of an approve/unapprove mutation.
type Receipt struct {
	Key          Key    `json:"key"`
	Message      string `json:"message"`
	ApproverUser string `json:"approverUser,omitempty"`
	ApprovalDate string `json:"approvalDate,omitempty"`
	ApprovalTime string `json:"approvalTime,omitempty"`
	NewStatus    string `json:"newStatus,omitempty"`
}

// BackendIndicators is the kind-normalized shape of the ERP indicator
// aggregates. Only the pending count is consumed directly; approved-today is
// always derived from the approved list so counter and list cannot disagree.
type BackendIndicators struct {
	Pending int             `json:"pending"`
	Raw     json.RawMessage `json:"raw"`
}

// LoginResult is the identity exchange result from the ERP.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Usuario     string `json:"usuario"`
	Nombre      string `json:"nombre"`
}

// Budget status codes (pre_est): N not current, P lost, G won, anything else
// unassigned.
const (
	BudgetStatusNotCurrent = "NO_VIGENTE"
	BudgetStatusLost       = "PERDIDO"
	BudgetStatusWon        = "GANADO"
	BudgetStatusUnassigned = "SIN_ASIGNACION"
)

// Purchase-order status codes (ocp_pdt): I pending, T received, N void.
const (
	OrderStatusPending  = "PENDIENTE"
	OrderStatusReceived = "RECEPCIONADA"
	OrderStatusVoid     = "NULA"
	OrderStatusOther    = "OTRO"
)

// budgetDetail mirrors the upstream PresupuestoDetalle row. Monetary and
// descriptive fields stay in the raw payload; only identity, status and the
// approval pair are lifted.
type budgetDetail struct {
	LocCod  int    `json:"Loc_cod"`
	PreNro  int    `json:"pre_nro"`
	PreEst  string `json:"pre_est"`
	VbggUsu string `json:"pre_vbggUsu"`
	VbggDt  string `json:"pre_vbggDt"`
}

type orderDetail struct {
	LocCod int    `json:"Loc_cod"`
	OcpNro int    `json:"ocp_nro"`
	OcpPdt string `json:"ocp_pdt"`
	A1Usu  string `json:"ocp_A1_Usu"`
	A1Dt   string `json:"ocp_A1_Dt"`
}

type budgetMutationResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	LocCod   int    `json:"Loc_cod"`
	PreNro   int    `json:"pre_nro"`
	VbggUsu  string `json:"pre_vbggUsu"`
	VbggDt   string `json:"pre_vbggDt"`
	VbggTime string `json:"pre_vbggTime"`
}

type orderMutationResponse struct {
	Message   string `json:"message"`
	OcpNro    int    `json:"ocp_nro"`
	NewStatus string `json:"new_status"`
}

type budgetIndicators struct {
	Pendientes int `json:"pendientes"`
	Aprobados  int `json:"aprobados"`
}

type orderIndicators struct {
	PendientesCount   int `json:"pendientes_count"`
	AprobadosHoyCount int `json:"aprobados_hoy_count"`
}

func budgetStatusLabel(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "N":
		return BudgetStatusNotCurrent
	case "P":
		return BudgetStatusLost
	case "G":
		return BudgetStatusWon
	default:
		return BudgetStatusUnassigned
	}
}

func orderStatusLabel(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "I":
		return OrderStatusPending
	case "T":
		return OrderStatusReceived
	case "N":
		return OrderStatusVoid
	default:
		return OrderStatusOther
	}
}
