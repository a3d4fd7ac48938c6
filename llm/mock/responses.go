package mock

const analysisJSON = `{
  "avaliacao_geral": "A história é clara quanto ao objetivo, mas omite regras de bloqueio e recuperação de senha.",
  "analise_invest": {
    "independente": {"avaliacao": "Sim", "justificativa": "Não depende de outras histórias abertas."},
    "negociavel": {"avaliacao": "Sim", "justificativa": "Detalhes de UI podem ser discutidos."},
    "valiosa": {"avaliacao": "Sim", "justificativa": "Acesso autenticado é pré-requisito do produto."},
    "estimavel": {"avaliacao": "Parcialmente", "justificativa": "Faltam regras de segurança."},
    "pequena": {"avaliacao": "Sim", "justificativa": "Cabe em uma sprint."},
    "testavel": {"avaliacao": "Parcialmente", "justificativa": "Critérios de aceite ausentes."}
  },
  "pontos_ambiguos": [
    "Quantas tentativas inválidas são permitidas antes do bloqueio?",
    "O login aceita e-mail, nome de usuário ou ambos?"
  ],
  "perguntas_para_po": [
    "Existe requisito de autenticação em dois fatores?",
    "Qual deve ser a duração da sessão?"
  ],
  "sugestao_criterios_aceite": [
    "Dado um usuário com credenciais válidas, quando enviar o formulário, então deve acessar o painel.",
    "Dado um usuário com senha inválida, quando enviar o formulário, então deve ver uma mensagem de erro genérica."
  ],
  "riscos_e_dependencias": [
    "Dependência do serviço de identidade corporativo."
  ]
}`

const analysisReport = `# Relatório de Análise da User Story

## Avaliação Geral
A história é clara quanto ao objetivo, mas omite regras de bloqueio e recuperação de senha.

## Pontos Ambíguos
- Quantas tentativas inválidas são permitidas antes do bloqueio?
- O login aceita e-mail, nome de usuário ou ambos?

## Perguntas para o PO
- Existe requisito de autenticação em dois fatores?
- Qual deve ser a duração da sessão?
`

const testPlanJSON = "```json\n" + `{
  "plano_de_testes": {
    "objetivo": "Validar o fluxo de autenticação de usuários.",
    "escopo": "Login com credenciais, mensagens de erro e bloqueio por tentativas.",
    "estrategia": "Testes funcionais manuais e automação de regressão da API de autenticação."
  },
  "casos_de_teste": [
    {"id": "CT-001", "titulo": "Login com credenciais válidas", "prioridade": "Alta",
     "pre_condicoes": "Usuário ativo cadastrado.",
     "passos": ["Abrir a tela de login", "Informar e-mail e senha válidos", "Enviar"],
     "resultado_esperado": "Usuário é redirecionado ao painel."},
    {"id": "CT-002", "titulo": "Login com senha inválida", "prioridade": "Alta",
     "pre_condicoes": "Usuário ativo cadastrado.",
     "passos": ["Abrir a tela de login", "Informar senha incorreta", "Enviar"],
     "resultado_esperado": "Mensagem de erro genérica é exibida."},
    {"id": "CT-003", "titulo": "Bloqueio após tentativas inválidas", "prioridade": "Média",
     "pre_condicoes": "Usuário ativo cadastrado.",
     "passos": ["Errar a senha cinco vezes seguidas"],
     "resultado_esperado": "Conta é bloqueada temporariamente."}
  ]
}` + "\n```"

const testPlanReport = `# Relatório do Plano de Testes

## Objetivo
Validar o fluxo de autenticação de usuários.

## Casos de Teste
| ID | Título | Prioridade |
|----|--------|------------|
| CT-001 | Login com credenciais válidas | Alta |
| CT-002 | Login com senha inválida | Alta |
| CT-003 | Bloqueio após tentativas inválidas | Média |
`
