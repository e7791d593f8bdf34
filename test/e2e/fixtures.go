// Package e2e provides end-to-end tests over the HTTP API; this file holds
// the fixture catalog, knowledge corpus, and conversation scripts.
package e2e

// FixtureIntents is the intent catalog used by the E2E server.
const FixtureIntents = `
intents:
  - id: return_goods
    name: 退货退款
    keywords: ["退货", "退款"]
    examples: ["我要退货", "怎么申请退款"]
    type: flow
    next_flow: return_goods
  - id: order_query
    name: 订单查询
    keywords: ["订单", "查订单"]
    examples: ["帮我查一下订单"]
    type: flow
    next_flow: order_query
  - id: logistics
    name: 物流查询
    keywords: ["物流", "快递"]
    examples: ["我的快递到哪了"]
    type: flow
    next_flow: logistics
  - id: faq_shipping
    name: 配送咨询
    keywords: ["发货", "配送"]
    examples: ["多久发货"]
    type: faq
`

// FixtureKnowledge is the knowledge corpus loaded before retrieval tests.
var FixtureKnowledge = []string{
	"退货政策：商品签收后7天内可无理由退货，需保持包装完好。",
	"退款到账时间：退款将在审核通过后3个工作日内原路退回。",
	"配送时效：现货商品当天16点前下单当天发货，偏远地区需3到5天送达。",
	"发票说明：电子发票在订单完成后可在个人中心自助开具。",
}

// Turn is one user message and the substrings its reply must contain.
type Turn struct {
	Message string
	Expect  []string
}

// Script is a named conversation against one session.
type Script struct {
	Name  string
	Turns []Turn
}

// FlowScripts exercise the guided flows end to end through the chat API.
var FlowScripts = []Script{
	{
		Name: "return goods full run",
		Turns: []Turn{
			{Message: "我要退货", Expect: []string{"退货服务", "订单号"}},
			{Message: "订单号是 1234567890", Expect: []string{"退货原因"}},
			{Message: "商品质量问题", Expect: []string{"确认"}},
			{Message: "确认", Expect: []string{"退货申请已提交"}},
		},
	},
	{
		// The first turn repeats the intent's indexed text so the
		// deterministic mock embedder scores it at the top.
		Name: "order query resolved by vector match",
		Turns: []Turn{
			{Message: "订单 查订单 帮我查一下订单", Expect: []string{"订单号"}},
			{Message: "12345", Expect: []string{"已发货"}},
		},
	},
	{
		Name: "logistics resolved by vector match",
		Turns: []Turn{
			{Message: "物流 快递 我的快递到哪了", Expect: []string{"订单号"}},
			{Message: "67890", Expect: []string{"中通快递"}},
		},
	},
}
