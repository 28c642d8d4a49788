// Package config carrega a configuração do gateway a partir de YAML.
//
// Aqui só entram padrões (Defaults) e o arquivo YAML; variáveis GATEWAY_* e
// flags ficam com o viper do cmd/gateway, nessa ordem. Os conversores (PoolConfig, Limits,
// Conflicts...) devolvem tipos do domínio já validados.
package config
