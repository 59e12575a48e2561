package entity

// NFSe is the normalized record extracted from an electronic service invoice.
// Every scalar is a pointer so a field the model could not find stays null.
type NFSe struct {
	// header
	InvoiceNumber    *string `json:"numero_nota" desc:"Número da nota fiscal"`
	IssueDate        *string `json:"data_emissao" desc:"Data de emissão, no formato original ou YYYY-MM-DD"`
	VerificationCode *string `json:"codigo_verificacao" desc:"Código de verificação de autenticidade"`

	Provider *Party `json:"prestador" desc:"Prestador do serviço"`
	Customer *Party `json:"tomador" desc:"Tomador do serviço"`

	// values and taxes
	TotalAmount   *float64 `json:"valor_total"`
	ServiceAmount *float64 `json:"valor_servicos"`
	ISSAmount     *float64 `json:"valor_iss"`
	ISSRate       *float64 `json:"aliquota_iss"`
	TaxBase       *float64 `json:"base_calculo"`
	ISSWithheld   *bool    `json:"iss_retido"`
	NetAmount     *float64 `json:"valor_liquido"`

	// federal withholdings
	PISAmount    *float64 `json:"valor_pis"`
	COFINSAmount *float64 `json:"valor_cofins"`
	IRAmount     *float64 `json:"valor_ir"`
	CSLLAmount   *float64 `json:"valor_csll"`
	INSSAmount   *float64 `json:"valor_inss"`

	ServiceDescription *string    `json:"discriminacao_servicos" desc:"Texto completo da discriminação dos serviços"`
	ServiceCode        *string    `json:"codigo_servico"`
	CNAE               *string    `json:"cnae"`
	Items              []LineItem `json:"itens_servico"`

	ServiceCity *string `json:"municipio_prestacao"`
	Notes       *string `json:"outras_informacoes"`
}

// Party identifies either side of the invoice.
type Party struct {
	CNPJ              *string `json:"cnpj"`
	LegalName         *string `json:"razao_social"`
	MunicipalRegistry *string `json:"inscricao_municipal"`
	Address           *string `json:"endereco"`
}

// LineItem is one service line of an invoice. It has no identity outside its parent.
type LineItem struct {
	Description string   `json:"descricao"`
	Quantity    *float64 `json:"quantidade"`
	UnitPrice   *float64 `json:"valor_unitario"`
	Total       *float64 `json:"valor_total"`
}

// Normalize replaces a nil item list with an empty one so the record always
// serializes "itens_servico" as an array.
func (n *NFSe) Normalize() {
	if n.Items == nil {
		n.Items = []LineItem{}
	}
}

// Clone returns a deep copy of n. Records handed out by the cache must not
// share pointees or item storage with the stored entry.
func (n NFSe) Clone() NFSe {
	out := n
	out.InvoiceNumber = clonePtr(n.InvoiceNumber)
	out.IssueDate = clonePtr(n.IssueDate)
	out.VerificationCode = clonePtr(n.VerificationCode)
	out.Provider = n.Provider.clone()
	out.Customer = n.Customer.clone()
	out.TotalAmount = clonePtr(n.TotalAmount)
	out.ServiceAmount = clonePtr(n.ServiceAmount)
	out.ISSAmount = clonePtr(n.ISSAmount)
	out.ISSRate = clonePtr(n.ISSRate)
	out.TaxBase = clonePtr(n.TaxBase)
	out.ISSWithheld = clonePtr(n.ISSWithheld)
	out.NetAmount = clonePtr(n.NetAmount)
	out.PISAmount = clonePtr(n.PISAmount)
	out.COFINSAmount = clonePtr(n.COFINSAmount)
	out.IRAmount = clonePtr(n.IRAmount)
	out.CSLLAmount = clonePtr(n.CSLLAmount)
	out.INSSAmount = clonePtr(n.INSSAmount)
	out.ServiceDescription = clonePtr(n.ServiceDescription)
	out.ServiceCode = clonePtr(n.ServiceCode)
	out.CNAE = clonePtr(n.CNAE)
	out.ServiceCity = clonePtr(n.ServiceCity)
	out.Notes = clonePtr(n.Notes)
	if n.Items != nil {
		out.Items = make([]LineItem, len(n.Items))
		for i, it := range n.Items {
			out.Items[i] = LineItem{
				Description: it.Description,
				Quantity:    clonePtr(it.Quantity),
				UnitPrice:   clonePtr(it.UnitPrice),
				Total:       clonePtr(it.Total),
			}
		}
	}
	return out
}

func (p *Party) clone() *Party {
	if p == nil {
		return nil
	}
	return &Party{
		CNPJ:              clonePtr(p.CNPJ),
		LegalName:         clonePtr(p.LegalName),
		MunicipalRegistry: clonePtr(p.MunicipalRegistry),
		Address:           clonePtr(p.Address),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
