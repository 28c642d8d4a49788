// Package application contém os casos de uso (regras de aplicação) de admissão:
// monitor de recursos, gate de concorrência, política de timeout e o Gateway que
// compõe os três.
//
// Ele depende apenas do pacote domain e não conhece net/http nem os/exec.
// Ex.: Gateway.Reserve(ctx, req) valida e registra a operação de forma atômica.
package application
