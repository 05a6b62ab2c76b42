package analyzer

import "regexp"

// Recognition patterns for Brazilian judicial auction notices. The analyzer
// owns these; they are not configurable at runtime.
var (
	// pageSeparatorPattern matches the "--- Page N ---" markers the
	// decomposer inserts between page texts.
	pageSeparatorPattern = regexp.MustCompile(`--- Page (\d+) ---`)

	// moneyPattern matches R$ amounts in Brazilian formatting, e.g.
	// "R$ 300.000,00".
	moneyPattern = regexp.MustCompile(`R\$\s*((?:\d{1,3}(?:\.\d{3})*|\d+),\d{2})`)

	// cpc889Pattern matches references to article 889 of the CPC.
	cpc889Pattern = regexp.MustCompile(`(?i)art(?:igo|\.)?\s*889\s*(?:,|do|da)?\s*(?:do\s+)?CPC`)

	phonePattern = regexp.MustCompile(`\(?\d{2}\)?\s*\d{4,5}[-\s]?\d{4}`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// processPattern matches CNJ-standard case numbers,
	// NNNNNNN-DD.AAAA.J.TR.OOOO.
	processPattern = regexp.MustCompile(`\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`)

	cnpjPattern = regexp.MustCompile(`\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}`)
	cpfPattern  = regexp.MustCompile(`\d{3}\.\d{3}\.\d{3}-\d{2}`)

	datePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)

	courtPattern = regexp.MustCompile(`(?i)(tribunal de justi[çc]a[^,.\n]*|\d+[ªa]?\s*vara[^,.\n]*|foro\s+(?:de|da|do)\s+[^\n,.]+)`)

	addressPattern = regexp.MustCompile(`(?i)(?:rua|avenida|av\.|alameda|travessa|rodovia)\s+[^\n,]{3,60}(?:,\s*(?:n[º°.]?\s*)?\d+)?`)

	companyPattern = regexp.MustCompile(`(?i)[A-ZÀ-Ú][\wÀ-ú&.\- ]{2,50}\s+(?:ltda\.?|s\.?/?a\.?|eireli|mei|epp)\b`)
)

// Keyword groups, matched case-insensitively against the full text.
var (
	documentTypeKeywords = []struct {
		docType  string
		keywords []string
	}{
		{"edital", []string{"edital"}},
		{"processo", []string{"processo judicial", "autos do processo"}},
		{"laudo", []string{"laudo de avaliação", "laudo pericial"}},
		{"certidão", []string{"certidão"}},
		{"contrato", []string{"contrato"}},
		{"escritura", []string{"escritura"}},
	}

	auctionKeywords = []string{"leilão", "leilao", "hasta pública", "hasta publica", "arrematação", "arrematacao", "praça", "praceamento"}

	propertyTypes = []struct {
		propType string
		keywords []string
	}{
		{"apartamento", []string{"apartamento"}},
		{"casa", []string{"casa residencial", "casa "}},
		{"comercial", []string{"sala comercial", "imóvel comercial", "loja"}},
		{"veículo", []string{"veículo", "veiculo", "automóvel", "automovel"}},
		{"imóvel", []string{"imóvel", "imovel", "terreno", "lote"}},
	}

	debtKeywords = []string{"dívida", "divida", "débito", "debito", "ônus", "onus", "hipoteca", "penhora"}

	// Deadline contexts, each with its own point key.
	deadlineContexts = []struct {
		key      string
		title    string
		keywords []string
	}{
		{"data_leilao", "Data do leilão", []string{"leilão", "leilao", "hasta", "praça"}},
		{"prazo_pagamento", "Prazo de pagamento", []string{"pagamento", "pagar", "depósito", "deposito"}},
		{"prazo_recurso", "Prazo de recurso", []string{"recurso", "embargos", "impugnação", "impugnacao"}},
	}

	// Contextual windows for financial value categories.
	minBidKeywords    = []string{"lance mínimo", "lance minimo", "lance inicial", "valor mínimo", "valor minimo"}
	valuationKeywords = []string{"avaliação", "avaliacao", "valor de avaliação", "valor avaliado"}
	costsKeywords     = []string{"custas", "emolumentos", "comissão do leiloeiro", "comissao do leiloeiro"}

	auctioneerKeywords = []string{"leiloeiro", "leiloeira"}
	officialEmailHints = []string{"jus.br", "tjsp", "tjrj", "tjmg", "cartorio", "cartório", "tribunal"}
)
