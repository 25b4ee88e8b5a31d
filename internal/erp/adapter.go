package erp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// adapter binds one document kind to its endpoints, wire field names and
// status vocabulary. The two kinds share one workflow shape; everything
// kind-specific funnels through here so the rest of the client stays generic.
type adapter struct {
	basePath         string
	decodeList       func(data []byte) ([]Document, error)
	decodeIndicators func(data []byte) (BackendIndicators, error)
	decodeReceipt    func(data []byte) (Receipt, error)
	mutationBody     func(key Key) any
}

func adapterFor(kind Kind) (adapter, error) {
	switch kind {
	case KindBudget:
		return budgetAdapter, nil
	case KindPurchaseOrder:
		return orderAdapter, nil
	}
	return adapter{}, fmt.Errorf("unknown document kind %q", kind)
}

var budgetAdapter = adapter{
	basePath: "/presupuestos",
	decodeList: func(data []byte) ([]Document, error) {
		return decodeDocuments(data, KindBudget, func(raw json.RawMessage) (Document, error) {
			var row budgetDetail
			if err := json.Unmarshal(raw, &row); err != nil {
				return Document{}, err
			}
			approver := strings.TrimSpace(row.VbggUsu)
			approvalDate := strings.TrimSpace(row.VbggDt)
			return Document{
				Kind:         KindBudget,
				Key:          Key{LocCod: row.LocCod, Nro: row.PreNro},
				Status:       budgetStatusLabel(row.PreEst),
				Approved:     approver != "" && approvalDate != "",
				ApproverUser: approver,
				ApprovalDate: approvalDate,
				Payload:      raw,
			}, nil
		})
	},
	decodeIndicators: func(data []byte) (BackendIndicators, error) {
		var ind budgetIndicators
		if err := json.Unmarshal(data, &ind); err != nil {
			return BackendIndicators{}, err
		}
		return BackendIndicators{Pending: ind.Pendientes, Raw: json.RawMessage(data)}, nil
	},
	decodeReceipt: func(data []byte) (Receipt, error) {
		var resp budgetMutationResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Receipt{}, err
		}
		return Receipt{
			Key:          Key{LocCod: resp.LocCod, Nro: resp.PreNro},
			Message:      resp.Message,
			ApproverUser: resp.VbggUsu,
			ApprovalDate: resp.VbggDt,
			ApprovalTime: resp.VbggTime,
		}, nil
	},
	mutationBody: func(key Key) any {
		return map[string]int{"Loc_cod": key.LocCod, "pre_nro": key.Nro}
	},
}

var orderAdapter = adapter{
	basePath: "/ordenes-compra",
	decodeList: func(data []byte) ([]Document, error) {
		return decodeDocuments(data, KindPurchaseOrder, func(raw json.RawMessage) (Document, error) {
			var row orderDetail
			if err := json.Unmarshal(raw, &row); err != nil {
				return Document{}, err
			}
			approver := strings.TrimSpace(row.A1Usu)
			approvalDate := strings.TrimSpace(row.A1Dt)
			return Document{
				Kind:         KindPurchaseOrder,
				Key:          Key{LocCod: row.LocCod, Nro: row.OcpNro},
				Status:       orderStatusLabel(row.OcpPdt),
				Approved:     approver != "" && approvalDate != "",
				ApproverUser: approver,
				ApprovalDate: approvalDate,
				Payload:      raw,
			}, nil
		})
	},
	decodeIndicators: func(data []byte) (BackendIndicators, error) {
		var ind orderIndicators
		if err := json.Unmarshal(data, &ind); err != nil {
			return BackendIndicators{}, err
		}
		return BackendIndicators{Pending: ind.PendientesCount, Raw: json.RawMessage(data)}, nil
	},
	decodeReceipt: func(data []byte) (Receipt, error) {
		var resp orderMutationResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Receipt{}, err
		}
		return Receipt{
			Key:       Key{Nro: resp.OcpNro},
			Message:   resp.Message,
			NewStatus: resp.NewStatus,
		}, nil
	},
	mutationBody: func(key Key) any {
		return map[string]int{"Loc_cod": key.LocCod, "ocp_nro": key.Nro}
	},
}

// decodeDocuments keeps each upstream row byte-for-byte in the payload and
// lifts only the fields the workflow interprets.
func decodeDocuments(data []byte, kind Kind, decodeRow func(json.RawMessage) (Document, error)) ([]Document, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", kind, err)
	}
	docs := make([]Document, 0, len(rows))
	for _, raw := range rows {
		doc, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s row: %w", kind, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
