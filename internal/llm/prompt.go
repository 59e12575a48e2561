package llm

import (
	"strconv"
	"strings"
)

const userPrompt = "Extraia os dados desta NFS-e conforme o schema fornecido."

// BuildInvocation composes the system and user instructions, the attachment
// and the output contract into one model call. It does no I/O.
func BuildInvocation(strategy Strategy, att Attachment, schema *ExtractionSchema) Invocation {
	return Invocation{
		Strategy:   strategy,
		System:     BuildSystemPrompt(strategy, schema),
		User:       userPrompt,
		Attachment: att,
		Schema:     schema.Ref(),
	}
}

// BuildSystemPrompt returns the fixed NFS-e instruction with the contract
// embedded. The raster variant adds hints on where fields usually sit on the page.
func BuildSystemPrompt(strategy Strategy, schema *ExtractionSchema) string {
	source := "o documento PDF fornecido"
	if strategy == StrategyRaster {
		source = "a imagem da primeira página da nota fornecida"
	}

	var b strings.Builder
	b.WriteString("Você é um assistente especializado em extração de dados de Notas Fiscais de Serviço Eletrônicas (NFS-e) brasileiras.\n")
	b.WriteString("Sua tarefa é analisar " + source + " e extrair TODOS os dados estruturados possíveis.\n\n")
	b.WriteString("Você DEVE seguir rigorosamente este schema JSON para a saída:\n")
	b.WriteString(schema.JSON())
	b.WriteString("\n\nInstruções Adicionais:\n")

	rules := []string{
		"Identifique os dados do Prestador e Tomador (CNPJ, Razão Social, Inscrição Municipal, Endereço).",
		"Extraia valores monetários como números decimais (float), sem símbolo de moeda e com ponto como separador decimal.",
		"Se um campo não for encontrado, use null.",
		"Para datas, utilize o formato original encontrado ou YYYY-MM-DD.",
		"A discriminação dos serviços deve ser o texto completo descrevendo o serviço.",
	}
	if strategy == StrategyRaster {
		rules = append(rules, rasterHints...)
	}
	for i, r := range rules {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	return b.String()
}

var rasterHints = []string{
	"O número da nota, a data de emissão e o código de verificação costumam ficar no canto superior direito.",
	"O bloco do Prestador vem antes do bloco do Tomador; não troque os CNPJs entre eles.",
	"Os valores e retenções (ISS, PIS, COFINS, IR, CSLL, INSS) ficam no quadro de valores no rodapé.",
	"Ignore carimbos, marcas d'água e textos de QR code.",
}
