// Package domain define contratos e tipos de domínio para admissão de operações
// e pool de handles de execução.
//
// Este pacote não depende de net/http, os/exec nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de admissão
// (limites, conflitos, timeouts) dos detalhes de infraestrutura.
package domain
