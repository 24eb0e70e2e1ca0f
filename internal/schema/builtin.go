package schema

import (
	"fmt"
	"sort"
)

// Document types accepted by the customer and revenue facts.
var documentTypes = []string{"CPF", "CNPJ"}

func regionalDim() Dimension {
	return Dimension{
		Name:                "regional",
		Table:               "dim_regionais",
		SurrogateCandidates: []string{"id_regional", "id"},
		NaturalCandidates:   []string{"id_regional_imanager", "id_regional_imanage", "id_regional_imananger"},
		StagingField:        "id_regional_imanager",
		LabelField:          "regional",
		KeyKind:             KindInt,
		Target:              "id_regional",
	}
}

func cidadeDim() Dimension {
	return Dimension{
		Name:                "cidade",
		Table:               "dim_cidades",
		SurrogateCandidates: []string{"id_cidade", "id"},
		NaturalCandidates:   []string{"id_cidade_imanager", "id_cidade_imanage", "id_cidade_imananger"},
		StagingField:        "id_cidade_imanager",
		LabelField:          "cidade",
		KeyKind:             KindInt,
		Target:              "id_cidade",
	}
}

func tempoDim(stagingField string) Dimension {
	return Dimension{
		Name:                "tempo",
		Table:               "dim_tempo",
		SurrogateCandidates: []string{"id_tempo", "id"},
		NaturalCandidates:   []string{"data", "dt", "data_dia", "data_calendario"},
		StagingField:        stagingField,
		KeyKind:             KindDate,
		Target:              "id_tempo",
	}
}

func textDim(name, table, surrogate, natural string) Dimension {
	return Dimension{
		Name:                name,
		Table:               table,
		SurrogateCandidates: []string{surrogate, "id"},
		NaturalCandidates:   []string{natural},
		StagingField:        natural,
		KeyKind:             KindText,
		Target:              surrogate,
	}
}

func key(name string) Column { return Column{Name: name, Kind: KindInt, Required: true} }

func measure(name string, kind Kind) Column {
	return Column{Name: name, Kind: kind, Required: true, ZeroIfNull: true}
}

func documentType() Column {
	return Column{Name: "tipo_documento", Kind: KindText, Required: true, Upper: true, Allowed: documentTypes}
}

var builtins = map[string]func() FactType{
	"clientes": func() FactType {
		ft := FactType{
			Name:       "clientes",
			Table:      "fato_clientes",
			TimeKey:    "id_tempo",
			Dimensions: []Dimension{tempoDim("data"), regionalDim(), cidadeDim()},
			Fact:       []Column{key("id_tempo"), key("id_regional"), key("id_cidade"), documentType()},
		}
		for _, m := range []string{
			"qtde_contratos",
			"aguardando_conexao",
			"cancelado",
			"conectado_ativo",
			"conectado_inadimplente_parcial",
			"conectado_inadimplente_total",
			"inadimplente",
			"pausado",
			"total_clientes_ativos",
		} {
			ft.Fact = append(ft.Fact, measure(m, KindInt))
		}
		return ft
	},

	"receita_doc": func() FactType {
		return FactType{
			Name:       "receita_doc",
			Table:      "fato_receita_doc",
			TimeKey:    "id_tempo",
			Dimensions: []Dimension{tempoDim("data"), regionalDim(), cidadeDim()},
			Fact: []Column{
				key("id_tempo"), key("id_regional"), key("id_cidade"), documentType(),
				measure("qtd_docs", KindInt),
				measure("valor_total", KindFloat),
			},
		}
	},

	"dre": func() FactType {
		return FactType{
			Name:    "dre",
			Table:   "fato_dre",
			TimeKey: "id_tempo",
			Dimensions: []Dimension{
				tempoDim("DATA"),
				textDim("item", "dim_itens", "id_item", "item"),
				textDim("natureza", "dim_naturezas", "id_natureza", "natureza"),
				textDim("detalhe", "dim_detalhes", "id_detalhe", "detalhe"),
				textDim("conta", "dim_contas", "id_conta", "conta"),
				{
					Name:                "regcid",
					Table:               "dim_regional_cidade",
					SurrogateCandidates: []string{"id_regcid"},
					NaturalCandidates:   []string{"id_cidade"},
					StagingField:        "id_cidade",
					KeyKind:             KindInt,
					Target:              "id_regcid",
				},
			},
			Fact: []Column{
				key("id_tempo"), key("id_item"), key("id_natureza"), key("id_detalhe"), key("id_conta"), key("id_regcid"),
				{Name: "valor", Source: "VALORG", Kind: KindFloat, Required: true},
			},
		}
	},
}

// Builtin returns a fresh copy of a built-in fact type.
func Builtin(name string) (FactType, error) {
	f, ok := builtins[name]
	if !ok {
		return FactType{}, fmt.Errorf("unknown fact type %q (known: %v)", name, BuiltinNames())
	}
	return f(), nil
}

// BuiltinNames lists the built-in fact types, sorted.
func BuiltinNames() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
