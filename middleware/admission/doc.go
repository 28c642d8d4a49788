// Package admission fornece o adapter HTTP (net/http) do gateway de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (timeout, recursos, concorrência, execução) sem net/http
//   - infra: implementações concretas (pool de handles, token bucket, stats), detalhes de infraestrutura
//   - admission (este pacote): rotas HTTP, chave do chamador + tradução de decisões para status/headers
//
// Fluxo de uma operação:
//
//  1. O handler decodifica o pedido, extrai a chave do chamador (header/XFF/IP)
//     com um KeyFunc e chama application.Executor
//  2. O Executor aplica a taxa do chamador para a classe da categoria e depois
//     a admissão; as duas negações entram nas estatísticas
//  3. Negação vira 429 com Retry-After; pool esgotado vira 503
//  4. Se admitido, o comando roda em um handle do pool e o resultado volta em JSON
//
// O binário cmd/gateway monta tudo a partir de config (YAML, e variáveis GATEWAY_* e flags via viper).
package admission
