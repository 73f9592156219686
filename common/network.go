package common

type Network struct {
	Name         string
	Addr         string
	ContractAddr string
}

var MainNet = Network{
	Name:         "mainnet",
	Addr:         "glm",
	ContractAddr: "glc",
}

var TestNet = Network{
	Name:         "testnet",
	Addr:         "tglm",
	ContractAddr: "tglc",
}

var RegTest = Network{
	Name:         "regtest",
	Addr:         "rglm",
	ContractAddr: "rglc",
}
