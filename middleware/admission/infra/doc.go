// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Pool/Handle: pool limitado de handles de execução com manutenção periódica
//   - ExecInvoker: invocação one-shot do motor externo via os/exec
//   - CallerStore: token bucket por chamador e classe usando golang.org/x/time/rate
//   - MemoryStatsStore / RedisStatsStore: estatísticas das decisões de admissão
package infra
