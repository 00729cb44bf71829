package testutil

import (
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/metadata"
)

// TestProtocol is the protocol id used by the fixtures.
const TestProtocol = "test-v1"

// Protocols returns a static protocol set declaring one product with a
// two-parameter "setColor" function, a no-parameter "reboot" function, and
// a "temperature" property.
func Protocols(productID string) metadata.StaticProtocols {
	return metadata.StaticProtocols{
		TestProtocol: &metadata.SimpleProtocol{
			ProtocolID:   TestProtocol,
			ProtocolName: "Test Protocol",
			Products: map[string]*metadata.SimpleMetadata{
				productID: {
					Funcs: []metadata.SimpleFunction{
						{
							FuncID:   "setColor",
							FuncName: "Set Color",
							Params: []metadata.SimpleParameter{
								{ParamID: "color", ParamName: "Color", Type: "string", Required: true},
								{ParamID: "brightness", ParamName: "Brightness", Type: "int"},
							},
						},
						{FuncID: "reboot", FuncName: "Reboot"},
					},
					Props: []metadata.SimpleParameter{
						{ParamID: "temperature", ParamName: "Temperature", Type: "float"},
					},
				},
			},
		},
	}
}

// Product returns a product record bound to the test protocol.
func Product(id string) *device.ProductInfo {
	return &device.ProductInfo{
		ID:       id,
		Name:     "Test Product " + id,
		Protocol: TestProtocol,
	}
}

// Device returns a device record bound to the given product.
func Device(id, productID string) *device.DeviceInfo {
	return &device.DeviceInfo{
		ID:        id,
		ProductID: productID,
		Type:      "device",
	}
}
