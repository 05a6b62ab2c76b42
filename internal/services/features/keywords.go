package features

// Keyword dictionaries owned by the feature extractor. These are fixed at
// compile time; swapping them at runtime would silently change what a
// trained model's inputs mean.
var (
	financialKeywords = []string{
		"valor", "pagamento", "depósito", "deposito", "parcelamento",
		"caução", "caucao", "arrematação", "arrematacao", "lance",
		"avaliação", "avaliacao", "custas", "comissão", "comissao",
	}

	urgencyKeywords = []string{
		"urgente", "prazo fatal", "improrrogável", "improrrogavel",
		"imediato", "até", "ate", "vencimento", "último", "ultimo",
	}

	legalNotificationKeywords = []string{
		"intimação", "intimacao", "intimados", "citação", "citacao",
		"notificação", "notificacao", "edital", "publicação", "publicacao",
	}

	valuationIndicatorKeywords = []string{
		"avaliação", "avaliacao", "laudo", "valor de mercado", "avaliado em",
	}

	propertyPositiveKeywords = []string{
		"desocupado", "livre de ocupação", "livre de ocupacao",
		"quitado", "regularizado", "matrícula atualizada", "matricula atualizada",
	}

	propertyNegativeKeywords = []string{
		"ocupado", "invadido", "litígio", "litigio", "irregular",
		"demolição", "demolicao", "interdição", "interdicao",
	}

	legalRestrictionKeywords = []string{
		"penhora", "indisponibilidade", "arresto", "sequestro",
		"usufruto", "servidão", "servidao", "alienação fiduciária", "alienacao fiduciaria",
	}

	complianceKeywords = []string{
		"art. 889", "artigo 889", "cpc", "código de processo civil", "codigo de processo civil",
		"nos termos da lei", "intimados",
	}

	riskKeywords = []string{
		"dívida", "divida", "débito", "debito", "ônus", "onus",
		"hipoteca", "iptu em aberto", "condomínio em atraso", "condominio em atraso",
	}

	authorityKeywords = []string{
		"juiz", "juíza", "juiza", "tribunal", "vara", "foro",
		"ministério público", "ministerio publico", "oficial de justiça", "oficial de justica",
	}

	discountKeywords = []string{
		"desconto", "abaixo da avaliação", "abaixo da avaliacao",
		"segunda praça", "segunda praca", "50%", "60%", "lance mínimo", "lance minimo",
	}

	marketValueKeywords = []string{
		"valor de mercado", "valor venal", "avaliação de mercado", "avaliacao de mercado",
	}

	auctionUrgencyKeywords = []string{
		"primeira praça", "primeira praca", "segunda praça", "segunda praca",
		"data do leilão", "data do leilao", "encerramento",
	}
)
