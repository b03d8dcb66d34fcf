package extractor

// Prompt asks for the purchase-order layout decoded by internal.Extraction.
// Field names are part of the stored extraction format.
const Prompt = `Analisa este documento de nota de encomenda e extrai os dados.
Devolve APENAS JSON válido, sem texto adicional e sem markdown.

Entregas programadas: alguns artigos têm várias datas de entrega parciais
(ex: "entregar 2000 em 2026-01-29 / entregar 1000 em 2026-02-03").
Quando existirem, coloca-as no array "entregas". Caso contrário o array fica vazio.

Formato JSON:
{
  "cliente": "nome do cliente/entidade emissora",
  "num_encomenda": "número da nota de encomenda",
  "data_encomenda": "data da encomenda",
  "compromisso": "número de compromisso ou null",
  "cabimento": "número de cabimento ou null",
  "num_contrato": "número de procedimento/contrato/concurso ou null",
  "nif_cliente": "NIF da entidade emissora ou null",
  "morada_entrega": "morada/local de entrega ou null",
  "linhas": [
    {
      "cod_artigo": "código do artigo do cliente",
      "ref_cliente": "referência do fornecedor (Refª: ...) ou null",
      "designacao": "descrição completa do artigo",
      "quantidade_total": "quantidade total da linha",
      "unidade": "unidade",
      "preco_unitario": "preço unitário sem IVA",
      "iva": "taxa de IVA em %",
      "total_sem_iva": "total sem IVA",
      "total_com_iva": "total com IVA se disponível",
      "entregas": [
        { "data": "YYYY-MM-DD", "quantidade": "quantidade desta entrega" }
      ]
    }
  ]
}

Se um campo não existir usa null.`
